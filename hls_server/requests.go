package hls_server

type LivePlaylistRequest struct {
	Application string `mapstructure:"app"`
	StreamKey   string `mapstructure:"stream_key"`
}

type LiveChunkRequest struct {
	Application string `mapstructure:"app"`
	StreamKey   string `mapstructure:"stream_key"`
	ChunkName   string `mapstructure:"chunk_name"`
}

type StreamStatusRequest struct {
	StreamKey string `mapstructure:"stream_key"`
}

type DeactivateKeyRequest struct {
	Key string `mapstructure:"key"`
}
