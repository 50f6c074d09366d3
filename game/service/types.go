package service

// Stats is a point-in-time view of the service.
type Stats struct {
	Connections int            `json:"connections"`
	Channels    []ChannelStats `json:"channels"`
}

// ChannelStats is the number of connections subscribed to one game.
type ChannelStats struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}
