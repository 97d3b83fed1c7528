package transcode

type Config struct {
	FfmpegBinary    string
	SegmentDuration int
	SegmentWindow   int
}

func NewConfig() Config {
	return Config{
		FfmpegBinary:    "ffmpeg",
		SegmentDuration: 2,
		SegmentWindow:   3,
	}
}
