package config

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	Auth    Auth    `envPrefix:"AUTH_"`
	Bold    Bold    `envPrefix:"BOLD_"`
	Billing Billing `envPrefix:"BILLING_"`
}

// Bold is the hosted payment link gateway.
type Bold struct {
	BaseApiURL    string `env:"BASE_API_URL" envDefault:"https://integrations.api.bold.co"`
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

// Billing holds the plan policy. The amount is a policy decision and is never
// taken from client input.
type Billing struct {
	PlanAmount   int64  `env:"PLAN_AMOUNT" envDefault:"20000"`
	PlanCurrency string `env:"PLAN_CURRENCY" envDefault:"COP"`
	PeriodDays   int    `env:"PERIOD_DAYS" envDefault:"30"`
}

type Auth struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}
