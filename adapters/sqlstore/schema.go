package sqlstore

import "database/sql"

// InitSchema creates the events and instances tables if they do not exist.
// Intended for examples and tests; production deployments manage the schema
// with their own migration tooling.
func InitSchema(db *sql.DB, eventsTable, instancesTable string) error {
	_, err := db.Exec(`
create table if not exists ` + eventsTable + ` (
  seq             bigint not null,
  instance_id     varchar(255) not null,
  task_id         int not null,
  type            int not null,
  name            varchar(255) not null default '',
  child_id        varchar(255) not null default '',
  input           mediumblob,
  output          mediumblob,
  failure_kind    int not null default 0,
  failure_message text not null,
  timestamp       datetime(3) not null,

  primary key (instance_id, seq)
);`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
create table if not exists ` + instancesTable + ` (
  id            varchar(255) not null primary key,
  kind          int not null,
  orchestration varchar(255) not null,
  parent_id     varchar(255) not null default '',
  input         mediumblob,
  status        int not null,
  output        mediumblob,
  err_message   text not null,
  err_kind      int not null default 0,
  created_at    datetime(3) not null,
  updated_at    datetime(3) not null,

  index idx_kind (kind),
  index idx_parent_id (parent_id)
);`)
	return err
}
