// Package buildinfo carries version metadata stamped in at link time:
//
//	go build -ldflags "-X syncgate/internal/buildinfo.Version=v1.2.0"
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"service": "syncgate",
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}
