package main

import (
	"fmt"
	"os"

	"go-dbms/config"
	"go-dbms/pkg/chaosdb"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Println("usage: bkv <db_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]

	db, err := chaosdb.Open(dir, "", config.DefaultOptions())
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			fmt.Println("error on gracefully stopping:", err)
		}
	}()

	seed := []struct{ k, v string }{
		{"alpha", "1"},
		{"bravo", "2"},
		{"charlie", "3"},
		{"delta", "4"},
		{"echo", "5"},
	}
	for _, kv := range seed {
		ok, err := db.Put([]byte(kv.k), []byte(kv.v))
		if err != nil {
			fatal(err)
		}
		if !ok {
			fmt.Printf("skip %q: already present\n", kv.k)
		}
	}

	it, err := db.Range([]byte("bravo"), []byte("delta"))
	if err != nil {
		fatal(err)
	}
	fmt.Println("range [bravo, delta]:")
	for it.Valid() {
		k, err := it.Key()
		if err != nil {
			fatal(err)
		}
		v, err := it.Value()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("  %s -> %s\n", k, v)
		if err := it.Next(); err != nil {
			fatal(err)
		}
	}

	if err := db.Flush(); err != nil {
		fatal(err)
	}

	count, err := db.Count()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("items=%d count=%d\n", db.Items(), count)
}

func fatal(err error) {
	fmt.Println(err)
	os.Exit(1)
}
