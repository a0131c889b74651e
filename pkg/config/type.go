package config

const (
	SourceMQTT   = "mqtt"
	SourceSerial = "serial"
)

type Config struct {
	// Signature of the P1 kit whose telegrams are logged.
	Signature string `toml:"signature" yaml:"signature"`
	// mqtt or serial
	Source    string `toml:"source" yaml:"source"`
	Timezone  string `toml:"timezone" yaml:"timezone"`
	VerifyCRC bool   `toml:"verify_crc" yaml:"verify_crc"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`

	MQTT     MQTTConfig    `toml:"mqtt" yaml:"mqtt"`
	Output   OutputConfig  `toml:"output" yaml:"output"`
	Serial   SerialConfig  `toml:"serial" yaml:"serial"`
	Metrics  ListenConfig  `toml:"metrics" yaml:"metrics"`
	LiveFeed ListenConfig  `toml:"livefeed" yaml:"livefeed"`
	MeterDB  MeterDBConfig `toml:"meterdb" yaml:"meterdb"`
}

type MQTTConfig struct {
	Broker   string `toml:"broker" yaml:"broker"`
	Topic    string `toml:"topic" yaml:"topic"`
	// Empty gets a random id per process.
	ClientID string `toml:"client_id" yaml:"client_id"`
	QoS      byte   `toml:"qos" yaml:"qos"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
	// Alternative to Password, for brokers that publish their read-only
	// credentials base64 encoded.
	PasswordBase64        string `toml:"password_base64" yaml:"password_base64"`
	TLS                   bool   `toml:"tls" yaml:"tls"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
}

type OutputConfig struct {
	Dir            string `toml:"dir" yaml:"dir"`
	Extension      string `toml:"extension" yaml:"extension"`
	Delimiter      string `toml:"delimiter" yaml:"delimiter"`
	WriteHeader    bool   `toml:"write_header" yaml:"write_header"`
	IncludeTariffs bool   `toml:"include_tariffs" yaml:"include_tariffs"`
	CRLF           bool   `toml:"crlf" yaml:"crlf"`
}

type SerialConfig struct {
	Device   string `toml:"device" yaml:"device"`
	Baudrate uint   `toml:"baudrate" yaml:"baudrate"`
}

// Empty Listen disables the endpoint.
type ListenConfig struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// Empty Path disables the SQLite mirror.
type MeterDBConfig struct {
	Path string `toml:"path" yaml:"path"`
}
