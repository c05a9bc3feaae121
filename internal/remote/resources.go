package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

// User is the profile returned by the users endpoints, normalized over the
// field spellings the API has used.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Premium bool   `json:"premium"`
}

// Stat is a best-effort counter. Fetched is false when the value could not
// be loaded, which is not the same as a zero count.
type Stat struct {
	Value   int64 `json:"value"`
	Fetched bool  `json:"fetched"`
}

// ProfileStats are the counters shown on the profile page.
type ProfileStats struct {
	Orders   Stat `json:"orders"`
	Wishlist Stat `json:"wishlist"`
	Reviews  Stat `json:"reviews"`
	Points   Stat `json:"points"`
}

type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Products lists the catalogue. Network failures are returned wrapped in
// ErrUnavailable and are not retried.
func (c *Client) Products(ctx context.Context) ([]domain.Product, error) {
	data, err := c.get(ctx, "products", "/api/products", nil, false)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	return ParseProducts(data)
}

// ParseProducts accepts either {"products":[...]} or a bare array.
func ParseProducts(data []byte) ([]domain.Product, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: products payload is not JSON", ErrBadResponse)
	}
	root := gjson.ParseBytes(data)
	list := root
	if root.IsObject() {
		list = root.Get("products")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no product list in payload", ErrBadResponse)
	}

	products := make([]domain.Product, 0, len(list.Array()))
	list.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		price := v.Get("price").Float()
		if price < 0 {
			price = 0
		}
		products = append(products, domain.Product{
			ID:          v.Get("id").Int(),
			Name:        firstString(v, "name", "title"),
			Description: v.Get("description").String(),
			Price:       price,
			Image:       firstString(v, "image", "image_url", "thumbnail"),
		})
		return true
	})
	return products, nil
}

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	data, err := c.get(ctx, "users_me", "/api/users/me", nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return ParseUser(data)
}

// User loads a profile by id.
func (c *Client) User(ctx context.Context, id string) (*User, error) {
	data, err := c.get(ctx, "users", "/api/users/"+url.PathEscape(id), nil, true)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", id, err)
	}
	return ParseUser(data)
}

// ParseUser reads a user object, optionally wrapped in {"user": ...}.
func ParseUser(data []byte) (*User, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: user payload is not JSON", ErrBadResponse)
	}
	u := gjson.ParseBytes(data)
	if inner := u.Get("user"); inner.IsObject() {
		u = inner
	}
	if !u.IsObject() {
		return nil, fmt.Errorf("%w: user payload is not an object", ErrBadResponse)
	}
	return userFrom(u), nil
}

func userFrom(u gjson.Result) *User {
	name := firstString(u, "name", "username")
	if name == "" {
		name = strings.TrimSpace(u.Get("first_name").String() + " " + u.Get("last_name").String())
	}
	return &User{
		ID:      u.Get("id").String(),
		Name:    name,
		Email:   u.Get("email").String(),
		Premium: u.Get("premium").Bool() || u.Get("is_premium").Bool(),
	}
}

// Stats loads the profile counters in parallel. Failures never surface;
// the affected counter is simply not fetched.
func (c *Client) Stats(ctx context.Context, userID string) ProfileStats {
	var stats ProfileStats
	targets := []struct {
		resource string
		dst      *Stat
	}{
		{"orders", &stats.Orders},
		{"wishlist", &stats.Wishlist},
		{"reviews", &stats.Reviews},
		{"points", &stats.Points},
	}

	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			*t.dst = c.stat(ctx, t.resource, userID)
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func (c *Client) stat(ctx context.Context, resource, userID string) Stat {
	q := url.Values{"user_id": []string{userID}}
	data, err := c.do(ctx, c.statsBreaker, resource, http.MethodGet, "/api/"+resource, q, nil, true)
	if err != nil {
		logger.FromContext(ctx, c.log).WithError(err).WithField("resource", resource).Debug("profile stat not fetched")
		return Stat{}
	}
	v, ok := ParseCount(data, resource)
	return Stat{Value: v, Fetched: ok}
}

// ParseCount extracts a counter from a list or summary payload: the array
// length, a nested array named after the resource, or the count, total or
// points field.
func ParseCount(data []byte, resource string) (int64, bool) {
	if !gjson.ValidBytes(data) {
		return 0, false
	}
	root := gjson.ParseBytes(data)
	if root.IsArray() {
		return int64(len(root.Array())), true
	}
	if !root.IsObject() {
		return 0, false
	}
	if nested := root.Get(resource); nested.IsArray() {
		return int64(len(nested.Array())), true
	}
	for _, field := range []string{"count", "total", "points"} {
		if f := root.Get(field); f.Exists() && (f.Type == gjson.Number || f.Type == gjson.String) {
			return f.Int(), true
		}
	}
	return 0, false
}

// SignIn exchanges credentials for a token.
func (c *Client) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	data, err := c.post(ctx, "signin", "/api/users/signin", signInRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("sign in failed: %w", err)
	}
	return parseAuth(data)
}

// SignUp registers an account and returns its token.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*AuthResult, error) {
	data, err := c.post(ctx, "signup", "/api/users/signup", req)
	if err != nil {
		return nil, fmt.Errorf("sign up failed: %w", err)
	}
	return parseAuth(data)
}

func parseAuth(data []byte) (*AuthResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: auth payload is not JSON", ErrBadResponse)
	}
	root := gjson.ParseBytes(data)
	token := root.Get("token").String()
	if token == "" {
		return nil, fmt.Errorf("%w: no token in auth payload", ErrBadResponse)
	}
	res := &AuthResult{Token: token}
	if u := root.Get("user"); u.IsObject() {
		res.User = *userFrom(u)
	}
	return res, nil
}

func errorMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	return firstString(gjson.ParseBytes(data), "message", "error")
}

func firstString(v gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := v.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
