package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvProduction = "production"

type Config struct {
	Port            string `mapstructure:"port"`
	AppEnv          string `mapstructure:"app_env"`
	DataDir         string `mapstructure:"data_dir"`
	FallbackDataDir string `mapstructure:"fallback_data_dir"`
	ImagesDir       string `mapstructure:"images_dir"`
	PDFDir          string `mapstructure:"pdf_dir"`
	PDFFontPath     string `mapstructure:"pdf_font_path"`
	PublicBaseURL   string `mapstructure:"public_base_url"`
	AllowedOrigins  string `mapstructure:"allowed_origins"`

	OpenAIAPIKey  string `mapstructure:"openai_api_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	GeminiAPIKey  string `mapstructure:"google_ai_studio_api_key"`

	AdminJWTSecret string        `mapstructure:"admin_jwt_secret"`
	AdminPassword  string        `mapstructure:"admin_password"`
	AdminTokenTTL  time.Duration `mapstructure:"admin_token_ttl"`

	StoreDriver string `mapstructure:"store_driver"`
	DBHost      string `mapstructure:"db_host"`
	DBUser      string `mapstructure:"db_user"`
	DBPassword  string `mapstructure:"db_password"`
	DBName      string `mapstructure:"db_name"`
	DBPort      string `mapstructure:"db_port"`
	SQLitePath  string `mapstructure:"sqlite_path"`

	GCSBucketName   string `mapstructure:"gcs_bucket_name"`
	BackupRetention int    `mapstructure:"backup_retention"`

	StripePublicKey     string `mapstructure:"stripe_public_key"`
	StripeSecretKey     string `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string `mapstructure:"stripe_webhook_secret"`
	StripePriceAmount   int64  `mapstructure:"stripe_price_amount"`
	StripeCurrency      string `mapstructure:"stripe_currency"`
	CheckoutSuccessURL  string `mapstructure:"checkout_success_url"`
	CheckoutCancelURL   string `mapstructure:"checkout_cancel_url"`

	PDFRetention       time.Duration `mapstructure:"pdf_retention"`
	PDFCleanupInterval time.Duration `mapstructure:"pdf_cleanup_interval"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// Load reads the process environment. Every key must have a default so that
// AutomaticEnv picks up its variable during Unmarshal.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.resolvePaths()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "3000")
	v.SetDefault("app_env", "development")
	v.SetDefault("data_dir", "/mnt/data")
	v.SetDefault("fallback_data_dir", "temp_data")
	v.SetDefault("images_dir", "")
	v.SetDefault("pdf_dir", "")
	v.SetDefault("pdf_font_path", "")
	v.SetDefault("public_base_url", "")
	v.SetDefault("allowed_origins", "")

	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("google_ai_studio_api_key", "")

	v.SetDefault("admin_jwt_secret", "")
	v.SetDefault("admin_password", "")
	v.SetDefault("admin_token_ttl", 12*time.Hour)

	v.SetDefault("store_driver", "json")
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "tarot")
	v.SetDefault("db_port", "5432")
	v.SetDefault("sqlite_path", "tarot.db")

	v.SetDefault("gcs_bucket_name", "")
	v.SetDefault("backup_retention", 10)

	v.SetDefault("stripe_public_key", "")
	v.SetDefault("stripe_secret_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("stripe_price_amount", 99000)
	v.SetDefault("stripe_currency", "vnd")
	v.SetDefault("checkout_success_url", "")
	v.SetDefault("checkout_cancel_url", "")

	v.SetDefault("pdf_retention", 30*24*time.Hour)
	v.SetDefault("pdf_cleanup_interval", 24*time.Hour)
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// resolvePaths places images and PDFs on the data volume in production and
// under the working directory otherwise.
func (c *Config) resolvePaths() {
	if c.ImagesDir == "" {
		if c.IsProduction() {
			c.ImagesDir = filepath.Join(c.DataDir, "images")
		} else {
			c.ImagesDir = filepath.Join("public", "images")
		}
	}
	if c.PDFDir == "" {
		if c.IsProduction() {
			c.PDFDir = filepath.Join(c.DataDir, "pdfs")
		} else {
			c.PDFDir = "pdfs"
		}
	}
}

func (c *Config) Origins() []string {
	if c.AllowedOrigins == "" {
		return []string{"http://localhost:5173"}
	}
	origins := strings.Split(c.AllowedOrigins, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}
