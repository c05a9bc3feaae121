package checkout

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDGenerator yields order ids of the form ORD-<unix millis>-<suffix>. The
// suffix is a random UUID rendered in upper-case base 36.
type IDGenerator struct {
	now func() time.Time
}

// NewIDGenerator stamps ids with now.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// NewOrderID returns ORD-<unix millis>-<random base36 suffix>.
func (g *IDGenerator) NewOrderID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	suffix := new(big.Int).SetBytes(id[:]).Text(36)
	return fmt.Sprintf("ORD-%d-%s", g.now().UnixMilli(), strings.ToUpper(suffix)), nil
}
