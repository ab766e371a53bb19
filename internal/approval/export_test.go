package approval

import "time"

// SetNowForTest replaces the gateway clock.
func (g *Gateway) SetNowForTest(now func() time.Time) {
	g.now = now
}
