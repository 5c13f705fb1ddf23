// Package database opens the bridge's SQLite file and keeps its schema
// current.
//
// Two tables live here, both fed from the radio path: enocean_senders, one
// row per address the gateway has heard, and enocean_teach_ins, a log of
// learn telegrams. list_devices requests read them back.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrate only sees files once the migrations package has been imported,
// normally as a blank import in main. Schema changes are additive: add
// nullable or defaulted columns, never drop or rename. Tables are STRICT
// and the file is created 0600.
package database
