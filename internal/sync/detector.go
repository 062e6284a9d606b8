package sync

import (
	"sort"

	"go.uber.org/zap"

	"github.com/legisync/backend/pkg/logger"
)

// DetectChanges compares the remote manifest against the stored hashes and
// returns the bill identifiers that are unseen or whose hash differs. The
// manifest hash is the sole change authority; timestamps play no part.
// Entries missing an identifier or hash are malformed and skipped, not
// errors. The result is sorted for deterministic processing order.
func DetectChanges(manifest map[string]string, stored map[string]string) []string {
	var worklist []string

	for billID, hash := range manifest {
		if billID == "" || hash == "" {
			logger.Warn("Skipping malformed manifest entry",
				zap.String("bill_id", billID),
			)
			continue
		}

		if storedHash, ok := stored[billID]; !ok || storedHash != hash {
			worklist = append(worklist, billID)
		}
	}

	sort.Strings(worklist)
	return worklist
}
