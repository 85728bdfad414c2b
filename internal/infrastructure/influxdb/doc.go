// Package influxdb records keygate telemetry in InfluxDB v2.
//
// Telemetry is optional (influxdb.enabled). When enabled, keygate writes:
//
//   - key_issue: get-key outcomes tagged by role, with the granted TTL
//   - login: login outcomes tagged by failure reason
//   - command: moderation commands tagged by action and outcome
//   - presence: the online count after every sweep
//
// Writes are batched and non-blocking. Usernames, session ids and keys are
// never written.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteKeyIssue("pro", 15*time.Second, "")
package influxdb
