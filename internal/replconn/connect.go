// Package replconn establishes the replication-mode connection shared by
// both the base-backup and WAL-receive engines. Everything below
// COPY OUT/COPY BOTH framing is handled by jackc/pgconn; this package
// only assembles the connection string the way the teacher's connect.go
// assembles one for a regular session.
package replconn

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/wal-g/replstream/internal/config"
)

// Options mirrors the standard connection environment variables
// (spec.md §6): PGHOST, PGPORT, PGUSER, PGPASSWORD. Each field, when
// empty, falls back to the corresponding setting in internal/config,
// which is itself bound to both the --pghost/--pgport/--pguser/
// --pgpassword flags and the matching environment variable, same
// precedence as the teacher's GetSetting.
type Options struct {
	Host     string
	Port     string
	Username string
	Password string
}

func (o Options) connString() string {
	host := firstNonEmpty(o.Host, viper.GetString(config.PgHostSetting))
	port := firstNonEmpty(o.Port, viper.GetString(config.PgPortSetting), "5432")
	user := firstNonEmpty(o.Username, viper.GetString(config.PgUserSetting))
	pass := firstNonEmpty(o.Password, viper.GetString(config.PgPasswordSetting))

	s := fmt.Sprintf("host=%s port=%s replication=database dbname=replication", host, port)
	if user != "" {
		s += " user=" + user
	}
	if pass != "" {
		s += " password=" + pass
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Connect dials a replication-mode connection. The connection is ready
// to have BASE_BACKUP, IDENTIFY_SYSTEM, or START_REPLICATION issued
// against it.
func Connect(ctx context.Context, opts Options) (*pgconn.PgConn, error) {
	conn, err := pgconn.Connect(ctx, opts.connString())
	if err != nil {
		return nil, errors.Wrap(err, "Connect: replication connection failed")
	}
	return conn, nil
}
