package internal

import (
	"fmt"
	"os"
	"time"
)

const (
	LivenessProcess   = "process"
	LivenessHeartbeat = "heartbeat"
)

// Config is read from the environment of the racebot process.
type Config struct {
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	Host              string        `env:"HOST,default=localhost"`
	Port              int           `env:"PORT,default=8080"`
	DebugPort         *int          `env:"DEBUG_PORT"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	HashidSecret      string        `env:"HASHID_SECRET,required=true"`
	SubscriberBuffer  int           `env:"SUBSCRIBER_BUFFER_SIZE,required=true"`
	SendDeadline      time.Duration `env:"SEND_DEADLINE,required=true"`
	LockTimeout       time.Duration `env:"LOCK_TIMEOUT,required=true"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT,default=*"`

	SupervisorPID     *int          `env:"SUPERVISOR_PID"`
	RestartInterval   time.Duration `env:"RESTART_INTERVAL,required=true"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=5s"`
	Liveness          string        `env:"LIVENESS,default=process"`

	TwitchClientID     string        `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string        `env:"TWITCH_CLIENT_SECRET"`
	YoutubeAPIKey      string        `env:"YOUTUBE_API_KEY"`
	StreamPollIdle     time.Duration `env:"STREAM_POLL_IDLE,default=60s"`
	StreamPollLive     time.Duration `env:"STREAM_POLL_LIVE,default=15s"`
}

// PID is the instance id the racebot claims rooms with, the process id
// unless overridden.
func (c Config) PID() int {
	if c.SupervisorPID != nil {
		return *c.SupervisorPID
	}
	return os.Getpid()
}

func (c Config) Validate() error {
	if c.Liveness != LivenessProcess && c.Liveness != LivenessHeartbeat {
		return fmt.Errorf("LIVENESS must be %q or %q, got %q", LivenessProcess, LivenessHeartbeat, c.Liveness)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER_SIZE must be positive, got %d", c.SubscriberBuffer)
	}
	if (c.TwitchClientID == "") != (c.TwitchClientSecret == "") {
		return fmt.Errorf("TWITCH_CLIENT_ID and TWITCH_CLIENT_SECRET go together")
	}
	_, err := CharacterRune(c.CharReplacement)
	return err
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
