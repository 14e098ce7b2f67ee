// Package crawl walks an account's media timeline newest-first, archives every
// item it has not seen before and keeps the account's resume watermark.
//
// The watermark is the id of the newest item observed. It is written as soon
// as the first page arrives, so an interrupted walk never rescans the items
// it had already started on; items skipped that way are recovered one by one
// through ScrapeItem.
package crawl
