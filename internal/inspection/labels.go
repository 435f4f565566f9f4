package inspection

import (
	"strings"
	"sync"

	"github.com/ent0n29/ridecheck/internal/logging"
	"go.uber.org/zap"
)

// DefaultLabels are the still-image slots of the walkaround, in capture order.
var DefaultLabels = []string{
	"front_tyre",
	"front_tyre_gauge",
	"right_photo",
	"back_photo",
	"back_tyre_gauge",
	"left_photo",
	"odometer_value",
}

// ParseLabels splits a comma separated override, or returns DefaultLabels.
func ParseLabels(csv string) []string {
	var out []string
	for _, l := range strings.Split(csv, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultLabels...)
	}
	return out
}

// LabelCursor hands out labels in order, one per successful capture. It
// never moves backwards and never runs past the list.
type LabelCursor struct {
	log *zap.Logger

	mu     sync.Mutex
	labels []string
	pos    int
}

func NewLabelCursor(labels []string, log *zap.Logger) *LabelCursor {
	return &LabelCursor{
		labels: append([]string(nil), labels...),
		log:    logging.OrNop(log),
	}
}

// Peek returns the next unused label without consuming it.
func (c *LabelCursor) Peek() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.labels) {
		return "", false
	}
	return c.labels[c.pos], true
}

// Advance consumes the label returned by Peek. Past the end it only warns.
func (c *LabelCursor) Advance() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.labels) {
		c.log.Warn("capture signal past last image label", zap.Int("labels", len(c.labels)))
		return false
	}
	c.pos++
	return true
}

// Next consumes and returns the next label.
func (c *LabelCursor) Next() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.labels) {
		c.log.Warn("capture signal past last image label", zap.Int("labels", len(c.labels)))
		return "", false
	}
	label := c.labels[c.pos]
	c.pos++
	return label, true
}

func (c *LabelCursor) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

func (c *LabelCursor) Len() int { return len(c.labels) }

// Captured lists the labels consumed so far.
func (c *LabelCursor) Captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.labels[:c.pos]...)
}
