package server

import (
	"time"

	"github.com/Pablu23/tftpc/internal/common"
)

type Options struct {
	Address        string
	Port           int
	Datapath       string
	Timeout        time.Duration
	Retries        int
	AllowOverwrite bool
	SessionTimeout time.Duration
}

func NewDefaultOptions() *Options {
	return &Options{
		Address:        "0.0.0.0",
		Port:           common.DefaultPort,
		Datapath:       "./server_files/",
		Timeout:        5 * time.Second,
		Retries:        5,
		AllowOverwrite: false,
		SessionTimeout: 30 * time.Second,
	}
}
