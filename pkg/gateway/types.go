package gateway

import "genesis/pkg/api"

// These are aliases, not separate types: the gateway package operates
// entirely in terms of api's wire-level types so that GatewayManager
// satisfies api.ChannelContext/api.MessageResponder directly.
type (
	Channel          = api.Channel
	SignalingChannel = api.SignalingChannel
	ChannelContext   = api.ChannelContext
	SessionContext   = api.SessionContext
	UnifiedMessage   = api.UnifiedMessage
	FileAttachment   = api.FileAttachment
)
