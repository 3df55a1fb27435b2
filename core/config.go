package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug            bool
		TestMode         bool
		Env              string
		Build            string
		AppName          string
		FrontendBaseURL  string
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail string
		LogLevel         string
		WorkDir          string

		Server      ServerConfig
		Database    DatabaseConfig
		Redis       RedisConfig
		Stripe      StripeConfig
		Entitlement EntitlementConfig
		RateLimit   RateLimitConfig
	}

	ServerConfig struct {
		Address            string
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | mongo | memory
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MongoURI      string
	}

	RedisConfig struct {
		Address  string
		Password string
		DB       int
	}

	StripeConfig struct {
		SecretKey     string
		WebhookSecret string
		Currency      string
		SuccessURL    string
		CancelURL     string
	}

	EntitlementConfig struct {
		GrantMonths        int
		SimulatedPurchases bool
	}

	RateLimitConfig struct {
		Limit  int
		Window time.Duration
	}
)

// Address returns the database "host:port".
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FromEmail parses DefaultFromEmail, falling back to a bare address.
func (c Config) FromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.DefaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("build", "develop")
	v.SetDefault("appName", "CircusCoach")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("secretKey", "z7#kq!w2r9v@c4m$e8t1y6u0i3o5p&l=d+f-g_h*j(k)s")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "CircusCoach <noreply@localhost>")
	v.SetDefault("logLevel", "")

	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "circuscoach")
	v.SetDefault("database.user", "circuscoach")
	v.SetDefault("database.password", "")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.mongoURI", "mongodb://localhost:27017")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("stripe.secretKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.currency", "usd")
	v.SetDefault("stripe.successURL", "http://localhost:3000/compra-exitosa?session_id={CHECKOUT_SESSION_ID}")
	v.SetDefault("stripe.cancelURL", "http://localhost:3000/compra-cancelada")

	v.SetDefault("entitlement.grantMonths", 6)
	v.SetDefault("entitlement.simulatedPurchases", false)

	v.SetDefault("rateLimit.limit", 10)
	v.SetDefault("rateLimit.window", time.Minute)
}

// NewConfig loads the application Config from defaults, an optional `config/.env.<env>` file and the environment.
// Env vars are prefixed with the upper-cased ENV, e.g. `PROD_STRIPE_SECRETKEY`.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	if env != "DEV" && env != "TEST" {
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := new(Config)
	if err := v.Unmarshal(conf); err != nil {
		log.Fatalf("config.Unmarshal: %v", err)
	}
	conf.Env = env
	conf.WorkDir = workDir
	if conf.Entitlement.GrantMonths <= 0 {
		conf.Entitlement.GrantMonths = 6
	}
	return conf
}
