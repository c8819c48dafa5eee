package boot

import (
	"github.com/spf13/cobra"

	"github.com/docmodel/docmodel/cmd/util"
	"github.com/docmodel/docmodel/pkg/config"
)

// bindBootFlags binds the cobra cmd flags to the equivalent config value being managed
// by viper. This bridges the config between cobra flags and viper flags.
func bindBootFlags(command *cobra.Command) {
	defaultConfig := config.DefaultConfig()
	flags := command.Flags()

	flags.String("datastore-engine", defaultConfig.Datastore.Engine, "the datastore engine to boot against ('memory' or 'mongodb')")
	util.MustBindPFlag("datastore.engine", flags.Lookup("datastore-engine"))
	util.MustBindEnv("datastore.engine", "DOCMODEL_DATASTORE_ENGINE")

	flags.String("datastore-uri", defaultConfig.Datastore.URI, "the connection uri of the datastore (required for 'mongodb')")
	util.MustBindPFlag("datastore.uri", flags.Lookup("datastore-uri"))
	util.MustBindEnv("datastore.uri", "DOCMODEL_DATASTORE_URI")

	flags.String("datastore-database", defaultConfig.Datastore.Database, "the database every model collection lives in")
	util.MustBindPFlag("datastore.database", flags.Lookup("datastore-database"))
	util.MustBindEnv("datastore.database", "DOCMODEL_DATASTORE_DATABASE")

	flags.Uint32("datastore-max-concurrent-queries", defaultConfig.Datastore.MaxConcurrentQueries, "the maximum number of reads in flight across all collections (0 disables the bound)")
	util.MustBindPFlag("datastore.maxConcurrentQueries", flags.Lookup("datastore-max-concurrent-queries"))
	util.MustBindEnv("datastore.maxConcurrentQueries", "DOCMODEL_DATASTORE_MAX_CONCURRENT_QUERIES", "DOCMODEL_DATASTORE_MAXCONCURRENTQUERIES")

	flags.Duration("datastore-connect-timeout", defaultConfig.Datastore.ConnectTimeout, "the time a single connect attempt may take")
	util.MustBindPFlag("datastore.connectTimeout", flags.Lookup("datastore-connect-timeout"))
	util.MustBindEnv("datastore.connectTimeout", "DOCMODEL_DATASTORE_CONNECT_TIMEOUT", "DOCMODEL_DATASTORE_CONNECTTIMEOUT")

	flags.Bool("datastore-unacknowledged-writes", defaultConfig.Datastore.UnacknowledgedWrites, "report writes to the memory engine as unacknowledged")
	util.MustBindPFlag("datastore.unacknowledgedWrites", flags.Lookup("datastore-unacknowledged-writes"))
	util.MustBindEnv("datastore.unacknowledgedWrites", "DOCMODEL_DATASTORE_UNACKNOWLEDGED_WRITES", "DOCMODEL_DATASTORE_UNACKNOWLEDGEDWRITES")

	flags.String("log-format", defaultConfig.Log.Format, "the log format to output logs in ('text' or 'json')")
	util.MustBindPFlag("log.format", flags.Lookup("log-format"))
	util.MustBindEnv("log.format", "DOCMODEL_LOG_FORMAT")

	flags.String("log-level", defaultConfig.Log.Level, "the log level to use ('none', 'debug', 'info', 'warn' or 'error')")
	util.MustBindPFlag("log.level", flags.Lookup("log-level"))
	util.MustBindEnv("log.level", "DOCMODEL_LOG_LEVEL")

	flags.Bool("trace-enabled", defaultConfig.Trace.Enabled, "enable tracing")
	util.MustBindPFlag("trace.enabled", flags.Lookup("trace-enabled"))
	util.MustBindEnv("trace.enabled", "DOCMODEL_TRACE_ENABLED")

	flags.String("trace-otlp-endpoint", defaultConfig.Trace.Endpoint, "the endpoint of the trace collector")
	util.MustBindPFlag("trace.endpoint", flags.Lookup("trace-otlp-endpoint"))
	util.MustBindEnv("trace.endpoint", "DOCMODEL_TRACE_OTLP_ENDPOINT", "DOCMODEL_TRACE_ENDPOINT")

	flags.Float64("trace-sample-ratio", defaultConfig.Trace.SampleRatio, "the fraction of traces to sample. 1 means all, 0 means none")
	util.MustBindPFlag("trace.sampleRatio", flags.Lookup("trace-sample-ratio"))
	util.MustBindEnv("trace.sampleRatio", "DOCMODEL_TRACE_SAMPLE_RATIO", "DOCMODEL_TRACE_SAMPLERATIO")

	flags.String("trace-service-name", defaultConfig.Trace.ServiceName, "the service name included in sampled traces")
	util.MustBindPFlag("trace.serviceName", flags.Lookup("trace-service-name"))
	util.MustBindEnv("trace.serviceName", "DOCMODEL_TRACE_SERVICE_NAME", "DOCMODEL_TRACE_SERVICENAME")

	flags.Bool("metrics-enabled", defaultConfig.Metrics.Enabled, "serve datastore metrics and keep the connection open until interrupted")
	util.MustBindPFlag("metrics.enabled", flags.Lookup("metrics-enabled"))
	util.MustBindEnv("metrics.enabled", "DOCMODEL_METRICS_ENABLED")

	flags.String("metrics-addr", defaultConfig.Metrics.Addr, "the host:port address to serve the prometheus metrics server on")
	util.MustBindPFlag("metrics.addr", flags.Lookup("metrics-addr"))
	util.MustBindEnv("metrics.addr", "DOCMODEL_METRICS_ADDR")

	flags.Bool("wait", defaultConfig.Boot.Wait, "retry the initial connect with exponential backoff")
	util.MustBindPFlag("boot.wait", flags.Lookup("wait"))
	util.MustBindEnv("boot.wait", "DOCMODEL_BOOT_WAIT")

	flags.Duration("wait-timeout", defaultConfig.Boot.WaitTimeout, "the total time spent retrying the initial connect")
	util.MustBindPFlag("boot.waitTimeout", flags.Lookup("wait-timeout"))
	util.MustBindEnv("boot.waitTimeout", "DOCMODEL_BOOT_WAIT_TIMEOUT", "DOCMODEL_BOOT_WAITTIMEOUT")

	flags.StringSlice("collections", defaultConfig.Boot.Collections, "the collections to boot as models")
	util.MustBindPFlag("boot.collections", flags.Lookup("collections"))
	util.MustBindEnv("boot.collections", "DOCMODEL_BOOT_COLLECTIONS")
}
