/*
Package log provides structured logging for testnet-deploy using zerolog.

A single package-level zerolog.Logger is configured once by Init from the CLI's
persistent flags. Packages derive child loggers carrying context fields:

	logger := log.WithComponent("ansible.runner")
	logger.Debug().Str("playbook", "nodes.yml").Msg("running playbook")

	envLogger := log.WithEnvironment("alpha")
	vmLogger := log.WithVM("alpha-node-3")

The helpers return zerolog.Logger values, whose event methods need an
addressable receiver: bind the result to a variable before logging.

Logs are written to stderr. Progress that the operator reads while a
deployment runs (phase banners, durations, warnings) is printed on stdout by
the callers, together with the streamed output of ansible and terraform.

# Configuration

	log.Init(log.Config{
		Level:      log.ParseLevel("debug"),
		JSONOutput: false,
	})

Console output uses RFC3339 timestamps. JSON output suits CI runners whose
log collectors parse structured lines.
*/
package log
