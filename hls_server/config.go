package hls_server

type LiveHlsConfig struct {
	HttpHost string
	HttpPort int

	LiveStreamPrefix string
	LivePlaylist     string
	LiveChunk        string

	ApiPrefix string
	Player    string
}

func (c *LiveHlsConfig) HandleLivePlaylistUrl() string {
	return c.LiveStreamPrefix + "/" + c.LivePlaylist
}

func (c *LiveHlsConfig) HandleLiveChunkUrl() string {
	return c.LiveStreamPrefix + "/" + c.LiveChunk
}

func (c *LiveHlsConfig) HandleListStreamsUrl() string {
	return c.ApiPrefix + "/streams"
}

func (c *LiveHlsConfig) HandleStreamStatusUrl() string {
	return c.ApiPrefix + "/streams/{stream_key:[0-9a-zA-Z_-]+}"
}

func (c *LiveHlsConfig) HandleKeysUrl() string {
	return c.ApiPrefix + "/keys"
}

func (c *LiveHlsConfig) HandleKeyUrl() string {
	return c.ApiPrefix + "/keys/{key:[0-9a-zA-Z_-]+}"
}

func (c *LiveHlsConfig) HandleServerConfigUrl() string {
	return c.ApiPrefix + "/config"
}

func (c *LiveHlsConfig) HandleLivePlayerUrl() string {
	return c.Player + c.LiveStreamPrefix
}

func NewLiveHlsConfig() LiveHlsConfig {
	c := LiveHlsConfig{
		HttpHost: "",
		HttpPort: 8888,

		LiveStreamPrefix: "/{app:live}/{stream_key:[0-9a-zA-Z_-]+}",
		LivePlaylist:     "index.m3u8",
		LiveChunk:        "{chunk_name:[0-9a-zA-Z_-]+[.]ts}",

		ApiPrefix: "/api",
		Player:    "/player",
	}
	return c
}
