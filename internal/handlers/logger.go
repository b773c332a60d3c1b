package handlers

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"golang.org/x/term"
)

// healthSampleEvery is how many /health hits produce one log line. Probes
// poll it every few seconds and would otherwise dominate the request log.
const healthSampleEvery = 10

const (
	cRed    = "\u001b[91m"
	cGreen  = "\u001b[92m"
	cYellow = "\u001b[93m"
	cBlue   = "\u001b[94m"
	cCyan   = "\u001b[96m"
	cReset  = "\u001b[0m"
)

func statusColor(status int, enableColors bool) string {
	if !enableColors {
		return ""
	}

	switch {
	case status >= 200 && status < 300:
		return cGreen
	case status >= 300 && status < 400:
		return cBlue
	case status >= 400 && status < 500:
		return cYellow
	default:
		return cRed
	}
}

// SamplingLogger is the request logger with the /health endpoint sampled
// 1-in-N; every other route logs per request through fiber's logger
// middleware.
func SamplingLogger() fiber.Handler {
	var healthCounter uint64
	var counterMu sync.Mutex

	enableColors := term.IsTerminal(int(os.Stdout.Fd())) &&
		os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"

	defaultLogger := logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${error}\n",
	})

	return func(c *fiber.Ctx) error {
		if c.Path() != "/health" {
			return defaultLogger(c)
		}

		counterMu.Lock()
		healthCounter++
		currentCount := healthCounter
		if currentCount == healthSampleEvery {
			healthCounter = 0
		}
		counterMu.Unlock()

		if currentCount != healthSampleEvery {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		resetColor := ""
		methodColor := ""
		if enableColors {
			resetColor = cReset
			methodColor = cCyan
		}

		// Same shape as the default format so grep patterns keep working.
		fmt.Printf("%s | %s%d%s | %13s | %s | %s%s%s | %s | - [sampled: %d calls]\n",
			time.Now().Format("15:04:05"),
			statusColor(status, enableColors),
			status,
			resetColor,
			duration,
			c.IP(),
			methodColor,
			c.Method(),
			resetColor,
			c.Path(),
			currentCount)

		return err
	}
}
