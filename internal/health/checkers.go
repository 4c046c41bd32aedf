package health

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/roamfit/roamfit/internal/config"
	"github.com/roamfit/roamfit/internal/store"
)

// StoreCheck probes the workout store with a cheap aggregate query.
func StoreCheck(st store.Store) Checker {
	return Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			if st == nil {
				return fmt.Errorf("no store configured")
			}
			_, err := st.Stats(ctx)
			return err
		},
	}
}

// CapabilitiesCheck verifies that every configured capability's executable
// can be resolved. It does not launch the subprocesses.
func CapabilitiesCheck(specs []config.CapabilitySpec) Checker {
	return Checker{
		Name: "capabilities",
		Check: func(_ context.Context) error {
			for _, spec := range specs {
				fields := strings.Fields(spec.Command)
				if len(fields) == 0 {
					return fmt.Errorf("capability %q has an empty command", spec.Name)
				}
				if _, err := exec.LookPath(fields[0]); err != nil {
					return fmt.Errorf("capability %q: %w", spec.Name, err)
				}
			}
			return nil
		},
	}
}
