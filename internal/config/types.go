package config

// Config is the whole config file. It decodes strictly: unknown fields
// are rejected so typos fail loudly at startup instead of silently
// running with defaults.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Queue   QueueConfig   `json:"queue"`
	Flow    FlowConfig    `json:"flow"`
	Worker  WorkerConfig  `json:"worker"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8000"

	// VerifyToken answers the webhook verification handshake
	// (hub.verify_token). The PROMO_VERIFY_TOKEN env var overrides it.
	VerifyToken string `json:"verify_token,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the conversation/quota store backend.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) | "memory"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// QueueConfig selects the task queue backend.
type QueueConfig struct {
	Driver string `json:"driver,omitempty"` // "sqlite" (default) | "redis" | "memory"

	// redis
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6379"
	DB            int    `json:"db,omitempty"`
	Key           string `json:"key,omitempty"`
	DeadLetterKey string `json:"dead_letter_key,omitempty"`

	// sqlite
	Path         string `json:"path,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`
}

// FlowConfig parameterizes the conversation flow. Reloadable at
// runtime via the config watcher.
type FlowConfig struct {
	// Variant selects how the offer is fulfilled once a name is known:
	//   - "bundle": confirmation text + coupon image immediately
	//   - "catalog": interactive product list, offer sent on selection
	Variant string `json:"variant,omitempty"` // default "bundle"

	// Trigger is the phrase (case-insensitive substring) that a first
	// message must contain to start the flow. Anything else is dropped.
	Trigger string `json:"trigger,omitempty"`

	Messages MessagesConfig     `json:"messages,omitempty"`
	Offer    OfferConfig        `json:"offer,omitempty"`
	Products map[string]Product `json:"products,omitempty"`
}

// MessagesConfig holds the scripted replies. Empty fields fall back to
// built-in defaults.
type MessagesConfig struct {
	AskName          string `json:"ask_name,omitempty"`
	Confirmation     string `json:"confirmation,omitempty"` // {name} substituted
	AlreadyReceived  string `json:"already_received,omitempty"`
	QuotaExhausted   string `json:"quota_exhausted,omitempty"`
	AlreadyUsed      string `json:"already_used,omitempty"`
	InvalidSelection string `json:"invalid_selection,omitempty"`
	ListBody         string `json:"list_body,omitempty"`
	ListButton       string `json:"list_button,omitempty"`
}

// OfferConfig is the bundle variant's artifact. The image URL may
// contain {phone} and {name} placeholders for personalized coupons.
type OfferConfig struct {
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption,omitempty"`
}

// Product is one catalog entry (catalog variant).
type Product struct {
	Name         string `json:"name"`
	PreviewImage string `json:"preview_image,omitempty"`
	CodeImage    string `json:"code_image"`
	Original     int    `json:"original,omitempty"`
	Discount     int    `json:"discount,omitempty"`
}

// WorkerConfig controls the delivery worker.
type WorkerConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 10
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"

	Retry   RetryConfig   `json:"retry,omitempty"`
	Janitor JanitorConfig `json:"janitor,omitempty"`
}

// RetryConfig makes failed-send handling an explicit choice. Disabled
// reproduces the fire-and-forget baseline: a failed send is logged and
// dead-lettered with no further attempts.
type RetryConfig struct {
	Enabled  bool    `json:"enabled"`
	Max      int     `json:"max,omitempty"`       // attempts after the first; default 3
	Base     string  `json:"base,omitempty"`      // default "500ms"
	MaxDelay string  `json:"max_delay,omitempty"` // default "15s"
	Jitter   float64 `json:"jitter,omitempty"`    // 0.2 = 20%
}

// JanitorConfig controls the periodic outbox sweep (sqlite queue only).
type JanitorConfig struct {
	Every      string `json:"every,omitempty"`       // cron spec or @every; default "@every 1m"
	StaleAfter string `json:"stale_after,omitempty"` // default "5m"
}
