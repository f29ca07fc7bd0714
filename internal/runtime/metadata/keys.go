package metadata

// Reserved header keys. Custom headers must not reuse them.
const (
	// KeyCorrelationID tracks related messages across services. It matches
	// the key Watermill's correlation middleware reads and writes.
	KeyCorrelationID = "correlation_id"

	// KeyMessageType carries the message URN, e.g.
	// urn:message:Lpa.Capmatix.KidCalcService.Contracts:RuleEngineCommand.
	KeyMessageType = "message_type"

	KeyConversationID     = "conversation_id"
	KeySourceAddress      = "source_address"
	KeyDestinationAddress = "destination_address"
	KeyContentType        = "content_type"

	// KeyEndpoint names the endpoint that received the message.
	KeyEndpoint = "endpoint"

	// KeySentTime mirrors the envelope send time in RFC 3339 format.
	KeySentTime = "sent_time"

	// KeyScheduledFor holds the RFC 3339 delivery time of a scheduled message.
	KeyScheduledFor = "scheduled_for"
	// KeyScheduledTopic is the topic a scheduled message is released to.
	KeyScheduledTopic = "scheduled_topic"
)

// ContentType is the MIME type of every envelope the bus writes.
const ContentType = "application/vnd.masstransit+json"
