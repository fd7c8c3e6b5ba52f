package options

import (
	"fmt"
	"net/url"

	"github.com/spf13/pflag"
)

var _ IOptions = (*BrowserOptions)(nil)

// BrowserOptions selects and configures the page driver used by the agent.
type BrowserOptions struct {
	// Driver is "chrome" or "stub". The stub records actions without a browser.
	Driver string `json:"driver" mapstructure:"driver"`

	// RemoteURL attaches to a running browser's DevTools websocket instead of launching one.
	RemoteURL string `json:"remote-url" mapstructure:"remote-url"`

	ExecPath string `json:"exec-path" mapstructure:"exec-path"`
	Headless bool   `json:"headless" mapstructure:"headless"`

	// StartURL is opened when a launched browser starts.
	StartURL string `json:"start-url" mapstructure:"start-url"`
}

func NewBrowserOptions() *BrowserOptions {
	return &BrowserOptions{
		Driver:   "chrome",
		Headless: true,
		StartURL: "about:blank",
	}
}

func (o *BrowserOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Driver != "chrome" && o.Driver != "stub" {
		errors = append(errors, fmt.Errorf("browser.driver must be chrome or stub, got %q", o.Driver))
	}
	if o.RemoteURL != "" {
		if u, err := url.Parse(o.RemoteURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errors = append(errors, fmt.Errorf("browser.remote-url %q must be a ws:// or wss:// URL", o.RemoteURL))
		}
	}

	return errors
}

func (o *BrowserOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Driver, join(prefixes, "browser.driver"), o.Driver, "Page driver: chrome or stub.")
	fs.StringVar(&o.RemoteURL, join(prefixes, "browser.remote-url"), o.RemoteURL, "DevTools websocket URL of an existing browser to attach to.")
	fs.StringVar(&o.ExecPath, join(prefixes, "browser.exec-path"), o.ExecPath, "Path of the browser binary to launch.")
	fs.BoolVar(&o.Headless, join(prefixes, "browser.headless"), o.Headless, "Launch the browser without a window.")
	fs.StringVar(&o.StartURL, join(prefixes, "browser.start-url"), o.StartURL, "Page opened when a launched browser starts.")
}
