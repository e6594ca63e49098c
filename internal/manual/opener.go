package manual

import (
	"github.com/pkg/browser"
	log "github.com/sirupsen/logrus"
)

// Opener shows a download page to the operator.
type Opener interface {
	Open(url string) error
}

// BrowserOpener opens pages in the default web browser.
type BrowserOpener struct{}

func (BrowserOpener) Open(url string) error {
	return browser.OpenURL(url)
}

// LogOpener only prints the page, for headless machines.
type LogOpener struct{}

func (LogOpener) Open(url string) error {
	log.Infof("Download manually: %s", url)
	return nil
}
