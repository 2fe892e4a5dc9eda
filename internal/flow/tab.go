package flow

import (
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var ErrInvalidURL = errors.New("invalid website url")

// Tab is one external browsing tab under observation.
type Tab interface {
	Alive() bool
	Close() error
}

// TabOpener opens an external tab for browse sessions. Opening happens
// last in the start sequence so capture permission prompts are never
// hidden behind the newly focused tab.
type TabOpener interface {
	Open(rawURL string) (Tab, error)
}

// ValidateSiteURL accepts absolute http(s) URLs only.
func ValidateSiteURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidURL
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", ErrInvalidURL
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return u.String(), nil
}

// tabMonitor watches tab liveness and invokes onClosed exactly once when
// the user closes the tab manually. The callback may call Stop on the
// monitor itself, so suppression is a swap-once flag rather than a
// sync.Once the callback would re-enter.
type tabMonitor struct {
	tab      Tab
	stopCh   chan struct{}
	stopOnce sync.Once
	fired    atomic.Bool
}

func watchTab(tab Tab, interval time.Duration, onClosed func()) *tabMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	m := &tabMonitor{
		tab:    tab,
		stopCh: make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				if !tab.Alive() {
					if m.fired.CompareAndSwap(false, true) {
						onClosed()
					}
					return
				}
			}
		}
	}()
	return m
}

func (m *tabMonitor) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stopCh) })
	// Once stopped, the close callback must never fire.
	m.fired.Store(true)
}
