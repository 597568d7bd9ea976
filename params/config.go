package params

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type API struct {
	ListenAddr     string
	AllowedOrigins []string
}

type Node struct {
	DataDir string
	LogFile string
}

type Market struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	// TradeHistoryLimit caps how many recent trades the API returns
	TradeHistoryLimit int
}

type Config struct {
	API    API
	Node   Node
	Market Market
}

func Default() Config {
	return Config{
		API: API{
			ListenAddr:     ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Node: Node{
			DataDir: "data/db",
			LogFile: "data/node.log",
		},
		Market: Market{
			Symbol:            "MINI-USDX",
			BaseAsset:         "MINI",
			QuoteAsset:        "USDX",
			TradeHistoryLimit: 100,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	// Override with environment variables
	if addr := os.Getenv("API_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		// Example: "http://localhost:3000,https://app.example.com"
		cfg.API.AllowedOrigins = strings.Split(origins, ",")
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}

	if symbol := os.Getenv("PAIR_SYMBOL"); symbol != "" {
		cfg.Market.Symbol = symbol
	}
	if base := os.Getenv("BASE_ASSET"); base != "" {
		cfg.Market.BaseAsset = base
	}
	if quote := os.Getenv("QUOTE_ASSET"); quote != "" {
		cfg.Market.QuoteAsset = quote
	}
	if limit := os.Getenv("TRADE_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Market.TradeHistoryLimit = n
		}
	}

	return cfg
}
