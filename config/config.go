package config

import "time"

type Config struct {
	Web     Web
	DB      DB
	Oauth   Oauth
	Cors    Cors
	Email   Email
	Stripe  Stripe
	Paypal  Paypal
	Storage Storage
	Upload  Upload
}

type Web struct {
	Address string `conf:"default:0.0.0.0:8000"`

	// ReadTimeout has to cover a full proxy-path upload, not just a
	// normal request body.
	ReadTimeout     time.Duration `conf:"default:300s"`
	WriteTimeout    time.Duration `conf:"default:10s"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`
}

type DB struct {
	User       string `conf:"default:postgres"`
	Password   string `conf:"default:postgres,mask"`
	Host       string `conf:"default:localhost"`
	Name       string `conf:"default:coursevault"`
	DisableTLS bool   `conf:"default:true"`
}

type OauthProvider struct {
	Client      string
	Secret      string `conf:"mask"`
	URL         string
	RedirectURL string
}

type Oauth struct {
	DiscoveryTimeout time.Duration `conf:"default:30s"`
	LoginRedirectURL string        `conf:"default:http://localhost:3000"`
	Google           OauthProvider
}

type Cors struct {
	Origin string
}

type Email struct {
	Host     string `conf:"default:localhost"`
	Port     string `conf:"default:25"`
	Address  string
	Password string `conf:"mask"`
	LoginURL string `conf:"default:http://localhost:3000/login"`
}

type Stripe struct {
	APISecret     string `conf:"mask"`
	WebhookSecret string `conf:"mask"`
	SuccessURL    string `conf:"default:http://localhost:3000/success"`
	CancelURL     string `conf:"default:http://localhost:3000/cancel"`
}

type Paypal struct {
	ClientID string
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api.sandbox.paypal.com"`
}

type Storage struct {
	Bucket         string `conf:"default:coursevault-assets"`
	Region         string `conf:"default:us-east-1"`
	Endpoint       string
	AccessKey      string
	SecretKey      string        `conf:"mask"`
	UploadTTL      time.Duration `conf:"default:15m"`
	DownloadTTL    time.Duration `conf:"default:24h"`
	ForcePathStyle bool          `conf:"default:false"`
}

type Upload struct {
	// Declared sizes at or below the threshold are proxied through the
	// process; larger ones go straight to storage with a presigned POST.
	ProxyThreshold int64 `conf:"default:524288000"`

	// Absolute limit accepted for a single asset, matching the storage
	// provider's single-request object cap.
	HardCap int64 `conf:"default:5368709120"`
}
