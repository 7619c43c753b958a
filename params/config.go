package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Engine struct {
	// FeeAccount collects the percentage fee taken from every order fill.
	FeeAccount common.Address
	// FeePercent is the integer percentage applied to the taker's payment on fills.
	FeePercent uint64
	// LoanFeeBps is the flash-loan fee in basis points. 0 = free loans.
	LoanFeeBps uint64
}

type Node struct {
	DataDir string // pebble database + audit journal location
	APIAddr string // REST/WebSocket listen address
	LogFile string // zap file sink ("" = console only)
	Seed    bool   // seed demo tokens/orders/loans on startup
}

type Config struct {
	Engine Engine
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			FeeAccount: common.HexToAddress("0x0000000000000000000000000000000000000Fee"),
			FeePercent: 10,
			LoanFeeBps: 0,
		},
		Node: Node{
			DataDir: "./data",
			APIAddr: ":8080",
			LogFile: "",
			Seed:    false,
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
	if v := os.Getenv("FEE_ACCOUNT"); v != "" && common.IsHexAddress(v) {
		cfg.Engine.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("FEE_PERCENT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.FeePercent = n
		}
	}
	if v := os.Getenv("LOAN_FEE_BPS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Engine.LoanFeeBps = n
		}
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Node.LogFile = v
	}
	if v := os.Getenv("SEED"); v != "" {
		cfg.Node.Seed = v == "true"
	}

	return cfg
}
