package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// Config represents the complete server configuration
type Config struct {
	Server Server `hcl:"server,block"`
	Game   Game   `hcl:"game,block"`
}

// Server contains server-level configuration
type Server struct {
	Address       string `hcl:"address,optional"`
	Port          int    `hcl:"port,optional"`
	LogLevel      string `hcl:"log_level,optional"`
	SweepSeconds  int    `hcl:"sweep_seconds,optional"`
	SessionCookie string `hcl:"session_cookie,optional"`
}

// Game contains the tunables of the match engine. All timer values are in
// seconds.
type Game struct {
	MinPlayers   int `hcl:"min_players,optional"`
	WinCondition int `hcl:"win_condition,optional"`
	HandQuota    int `hcl:"hand_cards_per_type,optional"`
	AFKLimit     int `hcl:"afk_limit,optional"`

	MinStatementCards int `hcl:"min_statement_cards,optional"`
	MinObjectCards    int `hcl:"min_object_cards,optional"`
	MinVerbCards      int `hcl:"min_verb_cards,optional"`
	MaxDeckSize       int `hcl:"max_deck_size,optional"`

	TimerPending         int `hcl:"timer_pending,optional"`
	TimerChoosing        int `hcl:"timer_choosing,optional"`
	TimerPicking         int `hcl:"timer_picking,optional"`
	TimerPickingBonus    int `hcl:"timer_picking_bonus_per_player,optional"`
	TimerCooldown        int `hcl:"timer_cooldown,optional"`
	TimerEnding          int `hcl:"timer_ending,optional"`
	JoinBonus            int `hcl:"join_bonus,optional"`
	PendingRefreshWindow int `hcl:"pending_refresh_window,optional"`
	ChoosingFinishWindow int `hcl:"choosing_finish_window,optional"`
	ParticipantTimeout   int `hcl:"participant_timeout,optional"`
}

// Default returns a config with the standard game tuning.
func Default() *Config {
	return &Config{
		Server: Server{
			Address:       "localhost",
			Port:          8080,
			LogLevel:      "info",
			SweepSeconds:  0,
			SessionCookie: "blanks_session",
		},
		Game: Game{
			MinPlayers:           3,
			WinCondition:         8,
			HandQuota:            6,
			AFKLimit:             2,
			MinStatementCards:    10,
			MinObjectCards:       10,
			MinVerbCards:         10,
			MaxDeckSize:          9999,
			TimerPending:         60,
			TimerChoosing:        60,
			TimerPicking:         60,
			TimerPickingBonus:    7,
			TimerCooldown:        15,
			TimerEnding:          20,
			JoinBonus:            30,
			PendingRefreshWindow: 10,
			ChoosingFinishWindow: 10,
			ParticipantTimeout:   15,
		},
	}
}

// Load reads configuration from an HCL file. A missing file yields the
// defaults; fields omitted in the file keep their default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return cfg, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var loaded Config
	diags = gohcl.DecodeBody(file.Body, nil, &loaded)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	mergeServer(&cfg.Server, loaded.Server)
	mergeGame(&cfg.Game, loaded.Game)
	return cfg, nil
}

func mergeServer(dst *Server, src Server) {
	if src.Address != "" {
		dst.Address = src.Address
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
	if src.SweepSeconds != 0 {
		dst.SweepSeconds = src.SweepSeconds
	}
	if src.SessionCookie != "" {
		dst.SessionCookie = src.SessionCookie
	}
}

func mergeGame(dst *Game, src Game) {
	ints := []struct {
		dst *int
		src int
	}{
		{&dst.MinPlayers, src.MinPlayers},
		{&dst.WinCondition, src.WinCondition},
		{&dst.HandQuota, src.HandQuota},
		{&dst.AFKLimit, src.AFKLimit},
		{&dst.MinStatementCards, src.MinStatementCards},
		{&dst.MinObjectCards, src.MinObjectCards},
		{&dst.MinVerbCards, src.MinVerbCards},
		{&dst.MaxDeckSize, src.MaxDeckSize},
		{&dst.TimerPending, src.TimerPending},
		{&dst.TimerChoosing, src.TimerChoosing},
		{&dst.TimerPicking, src.TimerPicking},
		{&dst.TimerPickingBonus, src.TimerPickingBonus},
		{&dst.TimerCooldown, src.TimerCooldown},
		{&dst.TimerEnding, src.TimerEnding},
		{&dst.JoinBonus, src.JoinBonus},
		{&dst.PendingRefreshWindow, src.PendingRefreshWindow},
		{&dst.ChoosingFinishWindow, src.ChoosingFinishWindow},
		{&dst.ParticipantTimeout, src.ParticipantTimeout},
	}
	for _, f := range ints {
		if f.src != 0 {
			*f.dst = f.src
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Game.MinPlayers < 2 {
		return fmt.Errorf("min_players must be at least 2, got %d", c.Game.MinPlayers)
	}
	if c.Game.WinCondition < 1 {
		return fmt.Errorf("win_condition must be positive, got %d", c.Game.WinCondition)
	}
	if c.Game.HandQuota < 1 {
		return fmt.Errorf("hand_cards_per_type must be positive, got %d", c.Game.HandQuota)
	}
	// Per-type minimums below the hand quota would let a single hand drain
	// the deck.
	if c.Game.MinObjectCards < c.Game.HandQuota || c.Game.MinVerbCards < c.Game.HandQuota {
		return fmt.Errorf("per-type card minimums must not be below the hand quota %d", c.Game.HandQuota)
	}
	return nil
}

// ListenAddress returns the address:port the HTTP server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// SweepInterval returns the periodic housekeeping interval, or zero when
// housekeeping runs only on inbound requests.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Server.SweepSeconds) * time.Second
}

// Duration helpers for the timer fields.

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (g Game) PendingTimer() time.Duration       { return seconds(g.TimerPending) }
func (g Game) ChoosingTimer() time.Duration      { return seconds(g.TimerChoosing) }
func (g Game) PickingTimer() time.Duration       { return seconds(g.TimerPicking) }
func (g Game) PickingBonus() time.Duration       { return seconds(g.TimerPickingBonus) }
func (g Game) CooldownTimer() time.Duration      { return seconds(g.TimerCooldown) }
func (g Game) EndingTimer() time.Duration        { return seconds(g.TimerEnding) }
func (g Game) JoinBonusTimer() time.Duration     { return seconds(g.JoinBonus) }
func (g Game) PendingRefresh() time.Duration     { return seconds(g.PendingRefreshWindow) }
func (g Game) ChoosingFinish() time.Duration     { return seconds(g.ChoosingFinishWindow) }
func (g Game) ParticipantRefresh() time.Duration { return seconds(g.ParticipantTimeout) }
