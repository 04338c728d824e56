package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const minSecretLen = 32

type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	Storage    `yaml:"storage"`
	Postgres   `yaml:"postgres"`
	Tokens     `yaml:"tokens"`
	OAuth      `yaml:"oauth"`
	Redis      `yaml:"redis"`
	RabbitMQ   `yaml:"rabbitmq"`
	Mail       `yaml:"mail"`
}

type HTTPServer struct {
	Address        string        `yaml:"address" env:"HTTP_ADDRESS" env-default:"localhost:8080"`
	Timeout        time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env-default:"60s"`
	AllowedOrigins []string      `yaml:"allowed_origins" env:"CORS_ORIGIN" env-separator:"," env-default:"http://localhost:3000"`
}

type Storage struct {
	Driver     string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" env-default:"./data/auth.db"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"postgres"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Tokens struct {
	JWTSecret       string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env-default:"24h"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env-default:"168h"`
	ResetTokenTTL   time.Duration `yaml:"reset_token_ttl" env-default:"1h"`
	Leeway          time.Duration `yaml:"leeway" env-default:"30s"`
}

type OAuth struct {
	FrontendBase string `yaml:"frontend_base" env:"FRONTEND_URL" env-default:"http://localhost:3000"`
	RedirectBase string `yaml:"redirect_base" env:"OAUTH_REDIRECT_BASE" env-default:"http://localhost:8080"`
	// AllowUnverifiedEmail пускает учетки провайдера без подтвержденного email (только для локальной отладки)
	AllowUnverifiedEmail bool          `yaml:"allow_unverified_email" env:"OAUTH_ALLOW_UNVERIFIED_EMAIL"`
	StateTTL             time.Duration `yaml:"state_ttl" env-default:"10m"`
	Google               Provider      `yaml:"google" env-prefix:"GOOGLE_"`
	GitHub               Provider      `yaml:"github" env-prefix:"GITHUB_"`
}

// Provider holds client credentials for one OAuth2 provider. Blank URLs mean the public defaults.
type Provider struct {
	ClientID     string   `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"CLIENT_SECRET"`
	Scopes       []string `yaml:"scopes"`
	AuthURL      string   `yaml:"auth_url"`
	TokenURL     string   `yaml:"token_url"`
	UserInfoURL  string   `yaml:"userinfo_url"`
	EmailsURL    string   `yaml:"emails_url"`
}

func (p Provider) Enabled() bool {
	return p.ClientID != "" && p.ClientSecret != ""
}

type Redis struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env-default:"0"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env:"RABBITMQ_URL" env-required:"true"`
	QueueName string `yaml:"queue_name" env-default:"mail"`
}

type Mail struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"MAIL_FROM" env-default:"noreply@warrantyhub.local"`
}

// * MustLoad читает конфиг по пути из флага -config или CONFIG_PATH
func MustLoad() *Config {
	path := fetchConfigPath()
	if path == "" {
		path = "./config/config.yaml"
	}

	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: config file does not exist: %s", op, configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to read config: %w", op, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if len(c.Tokens.JWTSecret) < minSecretLen {
		errs = append(errs, fmt.Errorf("tokens.jwt_secret must be at least %d characters", minSecretLen))
	}

	for name, ttl := range map[string]time.Duration{
		"tokens.access_token_ttl":  c.Tokens.AccessTokenTTL,
		"tokens.refresh_token_ttl": c.Tokens.RefreshTokenTTL,
		"tokens.reset_token_ttl":   c.Tokens.ResetTokenTTL,
		"oauth.state_ttl":          c.OAuth.StateTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Tokens.Leeway < 0 {
		errs = append(errs, errors.New("tokens.leeway must not be negative"))
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}

	return errors.Join(errs...)
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	return res
}
