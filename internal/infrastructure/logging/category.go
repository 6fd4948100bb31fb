package logging

type Category string
type SubCategory string
type ExtraKey string

const (
	General         Category = "General"
	IO              Category = "IO"
	Internal        Category = "Internal"
	RabbitMQ        Category = "RabbitMQ"
	MongoDB         Category = "MongoDB"
	WebSocket       Category = "WebSocket"
	Bridge          Category = "Bridge"
	Auth            Category = "Auth"
	Validation      Category = "Validation"
	RequestResponse Category = "RequestResponse"
	Prometheus      Category = "Prometheus"
)

const (
	// General
	Startup         SubCategory = "Startup"
	Shutdown        SubCategory = "Shutdown"
	RateLimiting    SubCategory = "RateLimiting"
	ExternalService SubCategory = "ExternalService"

	// RabbitMQ
	Connect   SubCategory = "Connect"
	Reconnect SubCategory = "Reconnect"
	Publish   SubCategory = "Publish"
	Consume   SubCategory = "Consume"

	// WebSocket / Bridge
	Handshake SubCategory = "Handshake"
	Frame     SubCategory = "Frame"
	Fanout    SubCategory = "Fanout"
	Decode    SubCategory = "Decode"
)

const (
	AppName        ExtraKey = "AppName"
	LoggerName     ExtraKey = "Logger"
	ClientIp       ExtraKey = "ClientIp"
	Method         ExtraKey = "Method"
	StatusCode     ExtraKey = "StatusCode"
	BodySize       ExtraKey = "BodySize"
	Path           ExtraKey = "Path"
	Latency        ExtraKey = "Latency"
	ErrorMessage   ExtraKey = "ErrorMessage"
	UserID         ExtraKey = "UserId"
	ConversationID ExtraKey = "ConversationId"
	RoutingKey     ExtraKey = "RoutingKey"
	Queue          ExtraKey = "Queue"
	Attempt        ExtraKey = "Attempt"
	Event          ExtraKey = "Event"
	CloseCode      ExtraKey = "CloseCode"
	RequestID      ExtraKey = "RequestId"
)
