package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/checkout"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/events"
	h "github.com/fjod/atomic-storefront/internal/http"
	"github.com/fjod/atomic-storefront/internal/remote"
	"github.com/fjod/atomic-storefront/internal/session"
	"github.com/fjod/atomic-storefront/pkg/logger"
)

type command func(ctx context.Context, a *app, args []string, out io.Writer) error

var commands = map[string]command{
	"products": productsCmd,
	"cart":     cartCmd,
	"checkout": checkoutCmd,
	"orders":   ordersCmd,
	"profile":  profileCmd,
	"signin":   signInCmd,
	"signup":   signUpCmd,
	"signout":  signOutCmd,
	"serve":    serveCmd,
	"events":   eventsCmd,
}

func productsCmd(ctx context.Context, a *app, _ []string, out io.Writer) error {
	products, err := a.remote.Products(ctx)
	if err != nil {
		if errors.Is(err, remote.ErrUnavailable) {
			return fmt.Errorf("%w (try again later)", err)
		}
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tPRICE")
	for _, p := range products {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.ID, p.Name, a.money.Format(p.Price))
	}
	return tw.Flush()
}

func cartCmd(ctx context.Context, a *app, args []string, out io.Writer) error {
	action := "list"
	if len(args) > 0 {
		action = args[0]
	}

	var id int64
	switch action {
	case "add", "inc", "dec", "rm":
		if len(args) != 2 {
			return fmt.Errorf("%w: cart %s needs a product id", errUsage, action)
		}
		var err error
		if id, err = strconv.ParseInt(args[1], 10, 64); err != nil || id <= 0 {
			return fmt.Errorf("%w: invalid product id %q", errUsage, args[1])
		}
	}

	var err error
	switch action {
	case "list":
	case "add":
		err = addToCart(ctx, a, id)
	case "inc":
		err = a.carts.Increase(ctx, id)
	case "dec":
		err = a.carts.Decrease(ctx, id)
	case "rm":
		err = a.carts.Remove(ctx, id)
	case "clear":
		err = a.carts.Clear(ctx)
	default:
		return fmt.Errorf("%w: unknown cart action %q", errUsage, action)
	}
	if err != nil {
		return err
	}
	printCart(out, a, a.carts.Load(ctx))
	return nil
}

func addToCart(ctx context.Context, a *app, id int64) error {
	products, err := a.remote.Products(ctx)
	if err != nil {
		return err
	}
	for _, p := range products {
		if p.ID == id {
			return a.carts.AddOrIncrement(ctx, p)
		}
	}
	return fmt.Errorf("product %d not found", id)
}

func printCart(out io.Writer, a *app, items []domain.CartItem) {
	if len(items) == 0 {
		fmt.Fprintln(out, "Your cart is empty.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", it.ID, it.Name, it.Quantity, a.money.Format(it.Price))
	}
	fmt.Fprintf(tw, "\t\t%d\t%s\n", cart.Count(items), a.money.Format(cart.Total(items)))
	tw.Flush()
}

func checkoutCmd(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	var (
		customer checkout.CustomerForm
		delivery checkout.DeliveryForm
		payment  checkout.PaymentForm
		method   string
		pay      string
	)
	fs.StringVar(&customer.FirstName, "first-name", "", "first name")
	fs.StringVar(&customer.LastName, "last-name", "", "last name")
	fs.StringVar(&customer.Email, "email", "", "email")
	fs.StringVar(&customer.Phone, "phone", "", "phone")
	fs.StringVar(&method, "delivery", string(domain.DeliveryMethodDelivery), "delivery or pickup")
	fs.StringVar(&delivery.Address, "address", "", "street address")
	fs.StringVar(&delivery.City, "city", checkout.DefaultCity, "city")
	fs.StringVar(&delivery.ZipCode, "zip", "", "zip code")
	fs.StringVar(&delivery.Notes, "notes", "", "delivery notes")
	fs.StringVar(&pay, "payment", string(domain.PaymentMethodCard), "card, cash or bank")
	fs.StringVar(&payment.CardNumber, "card-number", "", "card number")
	fs.StringVar(&payment.ExpiryDate, "expiry", "", "card expiry MM/YY")
	fs.StringVar(&payment.CVV, "cvv", "", "card CVV")
	fs.StringVar(&payment.CardName, "card-name", "", "name on card")
	if err := fs.Parse(args); err != nil {
		return err
	}
	delivery.Method = domain.DeliveryMethod(method)
	payment.Method = domain.PaymentMethod(pay)
	payment.CardNumber = checkout.FormatCardNumber(payment.CardNumber)
	payment.ExpiryDate = checkout.FormatExpiryDate(payment.ExpiryDate)

	wf, err := a.checkout.Begin(ctx)
	if err != nil {
		return err
	}
	_ = wf.SetCustomer(customer)
	_ = wf.SetDelivery(delivery)
	_ = wf.SetPayment(payment)

	for wf.Step() < domain.StepReview {
		if err := wf.Next(); err != nil {
			var verrs checkout.ValidationErrors
			if errors.As(err, &verrs) {
				printFieldErrors(out, wf.Step(), verrs)
			}
			return fmt.Errorf("checkout stopped at %s: %w", wf.Step(), err)
		}
	}

	printReview(ctx, out, a, wf)
	fmt.Fprintln(out, "Processing payment...")
	receipt, err := wf.PlaceOrder(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Order %s placed. Total %s\n", receipt.OrderID, a.money.Format(receipt.FinalTotal))
	return nil
}

func printFieldErrors(out io.Writer, step domain.CheckoutStep, errs checkout.ValidationErrors) {
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	fmt.Fprintf(out, "%s:\n", step)
	for _, f := range fields {
		fmt.Fprintf(out, "  %s: %s\n", f, errs[f])
	}
}

func printReview(ctx context.Context, out io.Writer, a *app, wf *checkout.Workflow) {
	printCart(out, a, wf.Items(ctx))
	t := wf.Totals(ctx)
	fmt.Fprintf(out, "Subtotal: %s\n", a.money.Format(t.Subtotal))
	fmt.Fprintf(out, "Delivery: %s\n", a.money.Format(t.DeliveryFee))
	fmt.Fprintf(out, "Tax:      %s\n", a.money.Format(t.Tax))
	fmt.Fprintf(out, "Total:    %s\n", a.money.Format(t.Total))
}

func ordersCmd(ctx context.Context, a *app, _ []string, out io.Writer) error {
	history, err := a.orders.List(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "No orders yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tDATE\tITEMS\tTOTAL\tSTATUS")
	for _, o := range history {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			o.ID, o.Date.Local().Format("2006-01-02 15:04"), cart.Count(o.Items), a.money.Format(o.FinalTotal), o.Status)
	}
	return tw.Flush()
}

func profileCmd(ctx context.Context, a *app, _ []string, out io.Writer) error {
	u, err := a.remote.Me(ctx)
	switch {
	case err == nil:
		if err := a.session.SetUser(ctx, *u); err != nil {
			return err
		}
	case errors.Is(err, remote.ErrUnavailable):
		// offline: fall back to the cached profile
		if u, err = a.session.User(ctx); err != nil {
			return err
		}
	default:
		return err
	}

	fmt.Fprintf(out, "%s <%s>", u.Name, u.Email)
	if u.Premium {
		fmt.Fprint(out, " (premium)")
	}
	fmt.Fprintln(out)

	stats := a.remote.Stats(ctx, u.ID)
	for _, s := range []struct {
		label string
		stat  remote.Stat
	}{
		{"Orders", stats.Orders},
		{"Wishlist", stats.Wishlist},
		{"Reviews", stats.Reviews},
		{"Points", stats.Points},
	} {
		value := "-"
		if s.stat.Fetched {
			value = strconv.FormatInt(s.stat.Value, 10)
		}
		fmt.Fprintf(out, "%-9s %s\n", s.label+":", value)
	}
	return nil
}

func signInCmd(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("signin", flag.ContinueOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("%w: signin needs -email and -password", errUsage)
	}

	u, err := a.session.SignIn(ctx, a.remote, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Signed in as %s\n", u.Name)
	return nil
}

func signUpCmd(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	var req remote.SignUpRequest
	fs.StringVar(&req.Name, "name", "", "full name")
	fs.StringVar(&req.Email, "email", "", "account email")
	fs.StringVar(&req.Password, "password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return fmt.Errorf("%w: signup needs -name, -email and -password", errUsage)
	}

	u, err := a.session.SignUp(ctx, a.remote, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Welcome, %s\n", u.Name)
	return nil
}

func signOutCmd(ctx context.Context, a *app, _ []string, out io.Writer) error {
	if err := a.session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out.")
	return nil
}

func serveCmd(ctx context.Context, a *app, _ []string, _ io.Writer) error {
	cfg := a.cfg.HTTP
	log := logger.Component(a.log, "http")

	router := h.NewRouter(h.RouterConfig{
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxBodyBytes,
		Log:                log,
	}, h.Handlers{
		Cart:     h.NewCartHandler(a.carts, cfg.RequestTimeout, log),
		Checkout: h.NewCheckoutHandler(a.checkout, cfg.RequestTimeout, log),
		Orders:   h.NewOrdersHandler(a.orders, cfg.RequestTimeout, log),
		Products: h.NewProductHandler(a.remote, cfg.RequestTimeout, log),
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("storefront API starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

// eventsCmd tails order_placed events until interrupted.
func eventsCmd(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	group := fs.String("group", events.DefaultGroupID, "consumer group id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.cfg.Kafka.Enabled {
		return errors.New("kafka is not enabled (set KAFKA_ENABLED=true)")
	}

	consumer := events.NewConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, *group, logger.Component(a.log, "events"))
	defer consumer.Close()

	return consumer.Run(ctx, func(_ context.Context, ev events.OrderPlaced) error {
		_, err := fmt.Fprintf(out, "%s\t%s\t%d items\t%s\n",
			ev.PlacedAt.Local().Format("2006-01-02 15:04"), ev.OrderID, ev.ItemCount, a.money.Format(ev.FinalTotal))
		return err
	})
}

var _ session.Authenticator = (*remote.Client)(nil)
