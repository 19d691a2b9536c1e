package sqlfx

import (
	"github.com/jmoiron/sqlx"

	"github.com/yurykabanov/srvbackup/pkg/domain"
	"github.com/yurykabanov/srvbackup/pkg/http/handler"
	"github.com/yurykabanov/srvbackup/pkg/storage"
)

func RunsRepository(db *sqlx.DB) (
	*storage.RunRepository,
	domain.RunRepository,
	handler.RunRepository,
) {
	repo := storage.NewRunRepository(db)

	return repo, repo, repo
}
