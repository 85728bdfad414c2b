package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementKeyIssue = "key_issue"
	MeasurementLogin    = "login"
	MeasurementCommand  = "command"
	MeasurementPresence = "presence"
)

// WriteKeyIssue records a get-key attempt. reason is empty on success.
func (c *Client) WriteKeyIssue(role string, ttl time.Duration, reason string) {
	c.writePoint(keyIssuePoint(role, ttl, reason, time.Now()))
}

// WriteLogin records a login attempt. reason is empty on success.
func (c *Client) WriteLogin(reason string) {
	c.writePoint(outcomePoint(MeasurementLogin, nil, reason, time.Now()))
}

// WriteCommand records a routed moderation command and its outcome.
func (c *Client) WriteCommand(action string, ok bool, reason string) {
	if ok {
		reason = ""
	}
	c.writePoint(outcomePoint(MeasurementCommand, map[string]string{"action": action}, reason, time.Now()))
}

// WriteOnlineCount records the size of the presence registry.
func (c *Client) WriteOnlineCount(n int) {
	c.writePoint(write.NewPoint(MeasurementPresence, nil,
		map[string]interface{}{"online": n}, time.Now()))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func keyIssuePoint(role string, ttl time.Duration, reason string, at time.Time) *write.Point {
	p := outcomePoint(MeasurementKeyIssue, map[string]string{"role": role}, reason, at)
	if reason == "" {
		p.AddField("ttl_seconds", ttl.Seconds())
	}
	return p
}

// outcomePoint builds a point tagged outcome=ok|denied with a count field,
// adding the reason tag on denial. Reasons are short stable codes, so tag
// cardinality stays low.
func outcomePoint(measurement string, tags map[string]string, reason string, at time.Time) *write.Point {
	all := map[string]string{"outcome": "ok"}
	for k, v := range tags {
		all[k] = v
	}
	if reason != "" {
		all["outcome"] = "denied"
		all["reason"] = reason
	}
	return write.NewPoint(measurement, all, map[string]interface{}{"count": 1}, at)
}
