package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

var ErrInvalidConfig = errors.New("invalid config")

// Location は "x:y:z" 形式で指定するワールド座標です。
type Location struct {
	X, Y, Z float32
}

func (l *Location) UnmarshalText(text []byte) error {
	parts := strings.Split(strings.TrimSpace(string(text)), ":")
	if len(parts) != 3 {
		return fmt.Errorf("%w: location %q must be x:y:z", ErrInvalidConfig, text)
	}
	var v [3]float32
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("%w: location %q: %v", ErrInvalidConfig, text, err)
		}
		v[i] = float32(f)
	}
	l.X, l.Y, l.Z = v[0], v[1], v[2]
	return nil
}

// Server はゲームサーバーの設定です。
type Server struct {
	Addr     string `env:"ADDR" envDefault:"localhost"`
	Port     string `env:"PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	TickRate          int           `env:"TICK_RATE" envDefault:"60"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"5s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"30s"`

	OwnershipRadius float32       `env:"OWNERSHIP_RADIUS" envDefault:"400"`
	OwnershipActors []Location    `env:"OWNERSHIP_ACTORS" envSeparator:";" envDefault:"0:0:0"`
	SpawnPoints     []Location    `env:"SPAWN_POINTS" envSeparator:";"`
	InitialAmmo     int32         `env:"INITIAL_AMMO" envDefault:"10"`
	FireCooldown    time.Duration `env:"FIRE_COOLDOWN" envDefault:"1500ms"`
	DebugOverlay    bool          `env:"DEBUG_OVERLAY" envDefault:"false"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// TickInterval はTickRateから1tickの長さを返します。
func (s Server) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

func (s Server) ListenAddr() string { return s.Addr + ":" + s.Port }

func (s Server) validate() error {
	switch {
	case s.TickRate <= 0:
		return fmt.Errorf("%w: TICK_RATE must be positive, got %d", ErrInvalidConfig, s.TickRate)
	case s.OwnershipRadius <= 0:
		return fmt.Errorf("%w: OWNERSHIP_RADIUS must be positive, got %v", ErrInvalidConfig, s.OwnershipRadius)
	case s.InitialAmmo < 0:
		return fmt.Errorf("%w: INITIAL_AMMO must not be negative, got %d", ErrInvalidConfig, s.InitialAmmo)
	case s.FireCooldown < 0:
		return fmt.Errorf("%w: FIRE_COOLDOWN must not be negative, got %v", ErrInvalidConfig, s.FireCooldown)
	}
	return nil
}

// Bot はボットクライアントの設定です。
type Bot struct {
	Addr       string  `env:"ADDR" envDefault:"localhost"`
	Port       string  `env:"PORT" envDefault:"9090"`
	LogLevel   string  `env:"LOG_LEVEL" envDefault:"info"`
	BotCount   int     `env:"BOT_COUNT" envDefault:"3"`
	FireChance float64 `env:"BOT_FIRE_CHANCE" envDefault:"0.02"`
	TickRate   int     `env:"TICK_RATE" envDefault:"60"`
}

func (b Bot) URL() string { return fmt.Sprintf("ws://%s:%s/ws", b.Addr, b.Port) }

func (b Bot) TickInterval() time.Duration {
	return time.Second / time.Duration(b.TickRate)
}

func (b Bot) validate() error {
	switch {
	case b.BotCount < 0:
		return fmt.Errorf("%w: BOT_COUNT must not be negative, got %d", ErrInvalidConfig, b.BotCount)
	case b.FireChance < 0 || b.FireChance > 1:
		return fmt.Errorf("%w: BOT_FIRE_CHANCE must be within [0, 1], got %v", ErrInvalidConfig, b.FireChance)
	case b.TickRate <= 0:
		return fmt.Errorf("%w: TICK_RATE must be positive, got %d", ErrInvalidConfig, b.TickRate)
	}
	return nil
}

// LoadServer は環境変数からサーバー設定を読み込みます。
func LoadServer() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadBot は環境変数からボット設定を読み込みます。
func LoadBot() (Bot, error) {
	var cfg Bot
	if err := env.Parse(&cfg); err != nil {
		return Bot{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Bot{}, err
	}
	return cfg, nil
}
