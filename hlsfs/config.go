package hlsfs

import "time"

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))

	return
}

type Config struct {
	Basedir     string
	Application string
	RemovalTime duration
}

func NewConfig() Config {
	return Config{
		Basedir:     "/tmp/d3f4ult_media/",
		Application: "live",
		RemovalTime: duration{24 * time.Hour},
	}
}
