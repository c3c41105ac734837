package refnum

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New builds a human-readable reference like ORD-20250901-1A2B3C4D. The date
// makes the numbers sortable at a glance; the hex tail carries the entropy.
func New(prefix string) string {
	hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), hex)
}
