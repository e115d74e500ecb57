// Package tempest maps strongly typed Go records onto rows of a shared
// DynamoDB table, following the single-table design pattern.
//
// Every record kind stored in a table declares which physical attributes
// its fields occupy. Bindings are explicit: a Mapping lists the fields of a
// type together with accessors, so no struct tags or field lookups by name
// are involved.
//
// # Key Concepts
//
// A Shape describes the physical table: its hash key, optional range key,
// secondary indexes and the attributes record types may use. All record
// types of one table share it.
//
// Directives control how a field maps onto attributes:
//   - Name: store the field under a different attribute name
//   - Names: replicate the value into several attributes, e.g. a primary
//     range key that also backs an index key
//   - Prefix: write a constant prefix before the value; mandatory on range
//     keys so record kinds sharing a table stay distinguishable
//   - AllowEmpty: omit a nil prefixed value instead of writing the bare prefix
//   - Required: fail decoding when the attribute is absent
//
// Bindings are validated once, when a view is created, and reported as a
// *SchemaBindingError that names the type, field and attributes involved.
//
// # Basic Usage
//
//	type AlbumInfo struct {
//	    AlbumToken string
//	    AlbumTitle string
//	}
//
//	type AlbumInfoKey struct {
//	    AlbumToken string
//	}
//
//	db := tempest.New(ddb)
//	table, err := db.Table("music_items", tempest.Shape{
//	    HashKey:    "partition_key",
//	    RangeKey:   "sort_key",
//	    Attributes: []string{"album_title"},
//	})
//
//	albums, err := tempest.NewInlineView(table,
//	    tempest.Map(
//	        tempest.Bind("album_token", func(k *AlbumInfoKey) *string { return &k.AlbumToken }, tempest.Name("partition_key")),
//	        tempest.Constant[AlbumInfoKey]("sort_key", ""),
//	    ),
//	    tempest.Map(
//	        tempest.Bind("album_token", func(a *AlbumInfo) *string { return &a.AlbumToken }, tempest.Name("partition_key")),
//	        tempest.Constant[AlbumInfo]("sort_key", "", tempest.Prefix("INFO_")),
//	        tempest.Bind("album_title", func(a *AlbumInfo) *string { return &a.AlbumTitle }),
//	    ),
//	)
//
//	err = albums.Save(ctx, AlbumInfo{AlbumToken: "ALBUM_1", AlbumTitle: "The Dark Side of the Moon"})
//	album, err := albums.Load(ctx, AlbumInfoKey{AlbumToken: "ALBUM_1"})
//
// # Writes Across Types
//
// Batch and transactional writes take write sets that may mix record types
// of several tables:
//
//	set, err := tempest.NewTransactionWriteSetBuilder().
//	    Save(track).
//	    CheckCondition(AlbumInfoKey{AlbumToken: "ALBUM_1"}).
//	    Build()
//	err = db.TransactionWrite(ctx, set)
//
// A WritingPager splits a long list of updates into transactions of at most
// MaxTransactionItems operations.
//
// # Pagination
//
// Query and scan pages carry the offset to resume from. A Paginator turns
// the raw last evaluated key into an opaque cursor for clients.
package tempest
