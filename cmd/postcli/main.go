package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/ShBattsooj/sdk/httpio"
	"github.com/ShBattsooj/sdk/httpio/transport/nethttp"
	"github.com/ShBattsooj/sdk/httpio/waiter"
	"github.com/ShBattsooj/sdk/logger"
)

const version = "$CLI_VERSION"

var (
	targetUrl string
	bodyPath  string
	body      string
	binary    bool
	userAgent string
	logLevel  string
	logPath   string

	// how long a single wait on the wakeup signal is allowed to park before
	// rechecking
	pollInterval = 5 * time.Second
)

func main() {
	parseFlags()

	log, err := createLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %s\n", err)
		os.Exit(1)
	}
	log.AddProcessVersion(version)

	if targetUrl == "" {
		log.Errorf("no target url given, use -url")
		os.Exit(1)
	}

	out, err := loadBody()
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	driver := httpio.New(log.GetComponentLogger("Driver"), nethttp.New(log.GetComponentLogger("Transport")))
	defer driver.Close()

	if err := driver.Configure(userAgent); err != nil {
		log.Error(err)
		os.Exit(1)
	}

	w := waiter.New()
	driver.RegisterWakeup(w)

	go watchConnectivity(log, driver)

	// the driver does not retry: a failed request is re-issued as a brand new
	// one, paced by exponential backoff
	backoffParams := backoff.NewExponentialBackOff()
	backoffParams.MaxElapsedTime = 5 * time.Minute

	ticker := backoff.NewTicker(backoffParams)
	defer ticker.Stop()

	for range ticker.C {
		req := httpio.NewRequest(targetUrl, out, binary)
		driver.Post(req, nil)

		status := await(driver, w, req)
		if status == httpio.Success {
			driver.Lock()
			log.Infof("request succeeded with HTTP %d: %s", req.HttpStatus, req.In())
			driver.Unlock()
			driver.Cancel(req) // release transport resources
			logStats(log, driver)
			return
		}

		driver.Cancel(req)
		log.Errorf("request failed, retrying in %s", backoffParams.NextBackOff().Round(time.Second))
	}

	log.Errorf("giving up after %s", backoffParams.MaxElapsedTime)
	logStats(log, driver)
	os.Exit(1)
}

func logStats(log *logger.Logger, driver *httpio.Driver) {
	digest := driver.Stats()
	log.Infof("transfer stats: inbound %s outbound %s", digest.Inbound, digest.Outbound)
}

// await parks on the waiter until the request settles
func await(driver *httpio.Driver, w *waiter.EventWaiter, req *httpio.Request) httpio.Status {
	for {
		driver.Lock()
		if status := req.Status(); status == httpio.Success || status == httpio.Failure {
			driver.Unlock()
			return status
		}

		// Wait releases the driver lock while parked so callbacks can land
		w.Wait(pollInterval)
		driver.Unlock()

		driver.DoIO()
	}
}

func watchConnectivity(log *logger.Logger, driver *httpio.Driver) {
	for up := range driver.Monitor().Events() {
		if up {
			log.Infof("network is reachable again")
		} else {
			log.Infof("network appears unreachable")
		}
	}
}

func createLogger() (*logger.Logger, error) {
	options := &logger.Config{
		FilePath: logPath,
		LogLevel: logger.ToLogLevel(logLevel),
	}
	options.ConsoleWriters = []io.Writer{os.Stdout}

	return logger.New(options)
}

func loadBody() ([]byte, error) {
	if bodyPath != "" {
		data, err := os.ReadFile(bodyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read body file: %w", err)
		}
		return data, nil
	}
	if body != "" {
		return []byte(body), nil
	}
	return nil, nil
}

func parseFlags() {
	flag.StringVar(&targetUrl, "url", "", "Target URL to POST to")
	flag.StringVar(&body, "body", "", "Request body to send")
	flag.StringVar(&bodyPath, "bodyFile", "", "Read the request body from this file instead of -body")
	flag.BoolVar(&binary, "binary", false, "Send the body as raw octets instead of json")
	flag.StringVar(&userAgent, "userAgent", "postcli/"+version, "User agent identity for the transport session")

	flag.StringVar(&logLevel, "logLevel", "info", "The log level to use -- must be one of 'disabled', 'debug', 'info', 'error'")
	flag.StringVar(&logPath, "logPath", "", "Also write structured logs to this file")

	flag.Parse()

	// The environment will overwrite any flags passed
	if fromEnv := os.Getenv("LOG_LEVEL"); fromEnv != "" {
		logLevel = fromEnv
	}
}
