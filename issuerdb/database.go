// Copyright 2014 ISRG.  All rights reserved
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package issuerdb

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/letsencrypt/borp"

	blog "github.com/pki-tools/chainvalidator/log"
)

var dialectMap = map[string]borp.Dialect{
	"mysql": borp.MySQLDialect{Engine: "InnoDB", Encoding: "UTF8"},
}

// NewDbMap opens the durable KeyDB store and builds the gorp/borp
// table mapping around certRow, the way Boulder's storage authority
// builds its own DbMap around core's persisted types.
func NewDbMap(driver, dsn string, log blog.Logger) (*borp.DbMap, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if log != nil {
		log.Debug(fmt.Sprintf("issuerdb: connected to %s database", driver))
	}

	dialect, ok := dialectMap[driver]
	if !ok {
		return nil, fmt.Errorf("issuerdb: no dialect registered for driver %q", driver)
	}

	dbMap := &borp.DbMap{Db: db, Dialect: dialect}
	initTables(dbMap)
	return dbMap, nil
}

func initTables(dbMap *borp.DbMap) {
	t := dbMap.AddTableWithName(certRow{}, "issuer_certs").SetKeys(false, "Fingerprint")
	t.ColMap("DER").SetMaxSize(8192)
}
