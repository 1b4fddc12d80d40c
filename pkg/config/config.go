package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Google   GoogleConfig
	Schedule ScheduleConfig
	Wishlist WishlistConfig
	Uploads  UploadsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// GoogleConfig holds the OAuth client and calendar API settings.
type GoogleConfig struct {
	ClientID         string
	ClientSecret     string
	APIKey           string
	RedirectURL      string
	SignInRedirect   string
	Scopes           []string
	DiscoveryDocURL  string
	OpenIDConfigURL  string
	ConsentTimeout   time.Duration
	StateSecret      string
	TokenSecret      string
	TokenTTL         time.Duration
	InitTimeout      time.Duration
	CalendarEndpoint string
	UserinfoEndpoint string
}

// ScheduleConfig tunes schedule sessions and their alert timings.
type ScheduleConfig struct {
	SessionTTL   time.Duration
	SweepSpec    string
	AlertVisible time.Duration
	AlertFade    time.Duration
	CookieName   string
	CookieSecure bool

	// AppRedirect and LoginRedirect are where the OAuth callback sends the browser.
	AppRedirect   string
	LoginRedirect string
}

// WishlistConfig configures admin access and list caching.
type WishlistConfig struct {
	AdminEmails  []string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// UploadsConfig controls image storage.
type UploadsConfig struct {
	StorageDir       string
	PublicBaseURL    string
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
	CleanupSpec      string
	CleanupWorkers   int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Google = GoogleConfig{
		ClientID:         v.GetString("GOOGLE_CLIENT_ID"),
		ClientSecret:     v.GetString("GOOGLE_CLIENT_SECRET"),
		APIKey:           v.GetString("GOOGLE_API_KEY"),
		RedirectURL:      v.GetString("GOOGLE_REDIRECT_URL"),
		SignInRedirect:   v.GetString("GOOGLE_SIGNIN_REDIRECT_URL"),
		Scopes:           splitAndTrim(v.GetString("GOOGLE_SCOPES")),
		DiscoveryDocURL:  v.GetString("GOOGLE_DISCOVERY_DOC"),
		OpenIDConfigURL:  v.GetString("GOOGLE_OPENID_CONFIG"),
		ConsentTimeout:   parseDuration(v.GetString("GOOGLE_CONSENT_TIMEOUT"), 5*time.Minute),
		StateSecret:      v.GetString("GOOGLE_STATE_SECRET"),
		TokenSecret:      v.GetString("GOOGLE_TOKEN_SECRET"),
		TokenTTL:         parseDuration(v.GetString("GOOGLE_TOKEN_TTL"), 30*24*time.Hour),
		InitTimeout:      parseDuration(v.GetString("GOOGLE_INIT_TIMEOUT"), 15*time.Second),
		CalendarEndpoint: v.GetString("GOOGLE_CALENDAR_ENDPOINT"),
		UserinfoEndpoint: v.GetString("GOOGLE_USERINFO_ENDPOINT"),
	}

	cfg.Schedule = ScheduleConfig{
		SessionTTL:    parseDuration(v.GetString("SCHEDULE_SESSION_TTL"), 2*time.Hour),
		SweepSpec:     v.GetString("SCHEDULE_SWEEP_SPEC"),
		AlertVisible:  parseDuration(v.GetString("SCHEDULE_ALERT_VISIBLE"), 5*time.Second),
		AlertFade:     parseDuration(v.GetString("SCHEDULE_ALERT_FADE"), time.Second),
		CookieName:    v.GetString("SCHEDULE_COOKIE_NAME"),
		CookieSecure:  v.GetBool("SCHEDULE_COOKIE_SECURE"),
		AppRedirect:   v.GetString("SCHEDULE_APP_REDIRECT"),
		LoginRedirect: v.GetString("SCHEDULE_LOGIN_REDIRECT"),
	}

	cfg.Wishlist = WishlistConfig{
		AdminEmails:  splitAndTrim(strings.ToLower(v.GetString("WISHLIST_ADMIN_EMAILS"))),
		CacheEnabled: v.GetBool("WISHLIST_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("WISHLIST_CACHE_TTL"), 5*time.Minute),
	}

	maxUploadSize := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUploadSize <= 0 {
		maxUploadSize = 5 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		StorageDir:       v.GetString("UPLOADS_STORAGE_DIR"),
		PublicBaseURL:    v.GetString("UPLOADS_PUBLIC_BASE_URL"),
		MaxFileSizeBytes: maxUploadSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("UPLOADS_ALLOWED_MIME_TYPES")),
		CleanupSpec:      v.GetString("UPLOADS_CLEANUP_SPEC"),
		CleanupWorkers:   v.GetInt("UPLOADS_CLEANUP_WORKERS"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "dvlab")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "dvlab-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_API_KEY", "")
	v.SetDefault("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback")
	v.SetDefault("GOOGLE_SIGNIN_REDIRECT_URL", "http://localhost:3000/login/callback")
	v.SetDefault("GOOGLE_SCOPES", "openid,email,profile,https://www.googleapis.com/auth/calendar.readonly")
	v.SetDefault("GOOGLE_DISCOVERY_DOC", "https://www.googleapis.com/discovery/v1/apis/calendar/v3/rest")
	v.SetDefault("GOOGLE_OPENID_CONFIG", "https://accounts.google.com/.well-known/openid-configuration")
	v.SetDefault("GOOGLE_CONSENT_TIMEOUT", "5m")
	v.SetDefault("GOOGLE_STATE_SECRET", "dev_state_secret")
	v.SetDefault("GOOGLE_TOKEN_SECRET", "dev_token_secret")
	v.SetDefault("GOOGLE_TOKEN_TTL", "720h")
	v.SetDefault("GOOGLE_INIT_TIMEOUT", "15s")
	v.SetDefault("GOOGLE_CALENDAR_ENDPOINT", "")
	v.SetDefault("GOOGLE_USERINFO_ENDPOINT", "")

	v.SetDefault("SCHEDULE_SESSION_TTL", "2h")
	v.SetDefault("SCHEDULE_SWEEP_SPEC", "@every 5m")
	v.SetDefault("SCHEDULE_ALERT_VISIBLE", "5s")
	v.SetDefault("SCHEDULE_ALERT_FADE", "1s")
	v.SetDefault("SCHEDULE_COOKIE_NAME", "dvlab_session")
	v.SetDefault("SCHEDULE_COOKIE_SECURE", false)
	v.SetDefault("SCHEDULE_APP_REDIRECT", "/schedule")
	v.SetDefault("SCHEDULE_LOGIN_REDIRECT", "/login")

	v.SetDefault("WISHLIST_ADMIN_EMAILS", "")
	v.SetDefault("WISHLIST_CACHE_ENABLED", false)
	v.SetDefault("WISHLIST_CACHE_TTL", "5m")

	v.SetDefault("UPLOADS_STORAGE_DIR", "./uploads")
	v.SetDefault("UPLOADS_PUBLIC_BASE_URL", "/uploads/files")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("UPLOADS_ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/webp,image/gif")
	v.SetDefault("UPLOADS_CLEANUP_SPEC", "@daily")
	v.SetDefault("UPLOADS_CLEANUP_WORKERS", 1)
}

// isMissingFile reports a missing .env, which viper surfaces as a plain fs error when SetConfigFile is used.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
