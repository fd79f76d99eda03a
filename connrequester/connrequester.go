package connrequester

import (
	"errors"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"

	modemcontroller "github.com/TheCacophonyProject/ofono-monitor/modem-controller"
)

const (
	requestInterval = 20 * time.Second
	pollInterval    = time.Second
)

// modemClient is the part of the ofono-monitor client used here.
type modemClient interface {
	GetModems() (map[string]map[string]interface{}, error)
	SetPowered(path string, on bool) error
	SetOnline(path string, on bool) error
}

type monitorClient struct{}

func (monitorClient) GetModems() (map[string]map[string]interface{}, error) {
	return modemcontroller.GetModems()
}

func (monitorClient) SetPowered(path string, on bool) error {
	return modemcontroller.SetPowered(path, on)
}

func (monitorClient) SetOnline(path string, on bool) error {
	return modemcontroller.SetOnline(path, on)
}

// ConnectionRequester keeps asking ofono-monitor to power up modems and bring
// their radios online while started.
type ConnectionRequester struct {
	client       modemClient
	stateChange  chan bool
	sendRequests bool
	interval     time.Duration
	poll         time.Duration
	log          *logging.Logger
}

// NewConnectionRequester will return a ConnectionRequester logging to log,
// or to an info level logger if log is nil.
// No connection will be requested until Start is called
func NewConnectionRequester(log *logging.Logger) *ConnectionRequester {
	return newConnectionRequester(monitorClient{}, requestInterval, pollInterval, log)
}

func newConnectionRequester(client modemClient, interval, poll time.Duration, log *logging.Logger) *ConnectionRequester {
	if log == nil {
		log = logging.NewLogger("info")
	}
	cr := &ConnectionRequester{
		client:      client,
		stateChange: make(chan bool),
		interval:    interval,
		poll:        poll,
		log:         log,
	}
	go cr.requestConnections()
	return cr
}

// WaitUntilUp will wait until a modem is registered on a network returning
// an error if that doesn't happen in the given duration
func (cr *ConnectionRequester) WaitUntilUp(timeout time.Duration) error {
	connectionTimeout := time.After(timeout)
	for {
		modems, err := cr.client.GetModems()
		if err == nil && Registered(modems) {
			return nil
		}
		select {
		case <-connectionTimeout:
			return errors.New("no modem registered")
		case <-time.After(cr.poll):
		}
	}
}

// WaitUntilUpLoop will wait until a modem is registered returning an error
// if none is.
// timeout is the time given to register each try.
// retryAfter is the duration between attempts, it will get doubled after each try.
// retryAttempts is how many times it will try. If -1 it will try until a modem
// registers.
func (cr *ConnectionRequester) WaitUntilUpLoop(
	timeout time.Duration,
	retryAfter time.Duration,
	retryAttempts int) error {
	retry := 0
	for {
		if err := cr.WaitUntilUp(timeout); err == nil {
			return nil
		}
		if retryAttempts != -1 && retry >= retryAttempts {
			return errors.New("no connection made")
		}
		retry++
		cr.Stop() // Stopping requesting to save power
		cr.log.Println("connection failed. Retry in", retryAfter)
		time.Sleep(retryAfter)
		retryAfter = retryAfter * 2
		cr.Start()
	}
}

// Registered reports whether any modem in a GetModems result is registered
// on a network.
func Registered(modems map[string]map[string]interface{}) bool {
	for _, state := range modems {
		if flag(state, "registered") {
			return true
		}
	}
	return false
}

// Start will start requesting for a connection to be made.
func (cr *ConnectionRequester) Start() {
	cr.stateChange <- true
}

// Stop will stop requesting for a connection to be made.
func (cr *ConnectionRequester) Stop() {
	cr.stateChange <- false
}

func (cr *ConnectionRequester) requestConnections() {
	for {
		var newRequestTime <-chan time.Time
		if cr.sendRequests {
			cr.requestModems()
			newRequestTime = time.After(cr.interval)
		}
		select {
		case cr.sendRequests = <-cr.stateChange:
		case <-newRequestTime:
		}
	}
}

// requestModems powers on every modem that is off and brings online every
// powered modem whose radio is off.
func (cr *ConnectionRequester) requestModems() {
	modems, err := cr.client.GetModems()
	if err != nil {
		cr.log.Println("error getting modems: ", err)
		return
	}
	for path, state := range modems {
		switch {
		case !flag(state, "powered"):
			if err := cr.client.SetPowered(path, true); err != nil {
				cr.log.Printf("error powering on %s: %v", path, err)
			}
		case !flag(state, "online"):
			if err := cr.client.SetOnline(path, true); err != nil {
				cr.log.Printf("error setting %s online: %v", path, err)
			}
		}
	}
}

func flag(state map[string]interface{}, key string) bool {
	b, _ := state[key].(bool)
	return b
}
