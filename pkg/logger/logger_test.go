package logger_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/yegors/aemet-connector/pkg/logger"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cfg     logger.Config
		wantErr bool
	}{
		"Console debug": {cfg: logger.Config{Level: "debug", Format: "console"}},
		"JSON info":     {cfg: logger.Config{Level: "info", Format: "json"}},
		"Defaults":      {cfg: logger.Config{}},

		"Bad level":  {cfg: logger.Config{Level: "verbose"}, wantErr: true},
		"Bad format": {cfg: logger.Config{Level: "info", Format: "xml"}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			log, err := logger.New(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			log.Named("test").Debug("message", logger.String("k", "v"), logger.Int("n", 1))
		})
	}
}
