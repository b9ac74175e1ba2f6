package data

import "embed"

var (
	//go:embed ethotp.yaml
	Config embed.FS
)
