package app

import (
	"gorm.io/gorm"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
	"github.com/gndumbri/arbiter-ai-sub001/internal/repos"
)

type Repos struct {
	Documents   repos.RulesetDocumentRepo
	Chunks      repos.RuleChunkRepo
	Jobs        repos.IngestionJobRepo
	Blocklist   repos.BlocklistRepo
	AuditTrail  repos.AuditRecordRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Documents:  repos.NewRulesetDocumentRepo(db, log),
		Chunks:     repos.NewRuleChunkRepo(db, log),
		Jobs:       repos.NewIngestionJobRepo(db, log),
		Blocklist:  repos.NewBlocklistRepo(db, log),
		AuditTrail: repos.NewAuditRecordRepo(db, log),
	}
}
