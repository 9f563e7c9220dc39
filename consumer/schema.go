package consumer

// Parameter names as they appear in configuration files.
const (
	ParamDestination         = "destination.name"
	ParamHost                = "host"
	ParamPort                = "port"
	ParamChannel             = "channel"
	ParamQueueManager        = "queue.manager"
	ParamUsername            = "username"
	ParamPassword            = "password"
	ParamWorkerCount         = "worker.count"
	ParamProperties          = "properties"
	ParamReconnectTimeout    = "client.reconnect.timeout"
	ParamTransportProperties = "transport.properties"
)

type Parameter struct {
	Name        string
	Description string
	Type        string
	Optional    bool
	Default     string
}

// Parameters is the configuration schema of the source.
var Parameters = []Parameter{
	{
		Name:        ParamDestination,
		Description: "Name of the queue the source subscribes to.",
		Type:        "string",
	},
	{
		Name:        ParamHost,
		Description: "Host address of the queue manager.",
		Type:        "string",
	},
	{
		Name:        ParamPort,
		Description: "Port of the queue manager.",
		Type:        "int",
	},
	{
		Name:        ParamChannel,
		Description: "Channel used to connect to the queue manager.",
		Type:        "string",
	},
	{
		Name:        ParamQueueManager,
		Description: "Name of the queue manager.",
		Type:        "string",
	},
	{
		Name:        ParamUsername,
		Description: "Username to connect with. Without both username and password the connection is anonymous.",
		Type:        "string",
		Optional:    true,
	},
	{
		Name:        ParamPassword,
		Description: "Password to connect with. Without both username and password the connection is anonymous.",
		Type:        "string",
		Optional:    true,
	},
	{
		Name:        ParamWorkerCount,
		Description: "Number of workers listening on the queue. With more than one worker message ordering is not preserved.",
		Type:        "int",
		Optional:    true,
		Default:     "1",
	},
	{
		Name:        ParamProperties,
		Description: "Broker client properties as comma separated key:value pairs, e.g. 'max.wait:1s,start.offset:last'.",
		Type:        "string",
		Optional:    true,
	},
	{
		Name:        ParamReconnectTimeout,
		Description: "Time in seconds the client waits for a reconnection.",
		Type:        "int",
		Optional:    true,
		Default:     "30",
	},
	{
		Name:        ParamTransportProperties,
		Description: "Names of transport headers handed to the sink with every message.",
		Type:        "[]string",
		Optional:    true,
	},
}
