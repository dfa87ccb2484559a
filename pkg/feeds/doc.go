/*
Package feeds ingests synchronised feed data into the store.

An external sync job keeps the feed directories current and writes a
version stamp per feed; the coordinator compares those stamps against
the store's sync markers and loads whatever is newer. VT metadata and
the CVE correlation map replace their stored sets wholesale, the CERT
feed is served from disk and only moves its marker, and the shipped
scan configs import last because they reference VTs.

Two gates guard a sync. The feed lock serialises ingestion across every
process sharing the state directory, stamped with the holder's pid so
operators can see who owns it; a holder that outlives the configured
timeout surfaces ErrFeedBusy. The memory gate refuses to start while
free memory sits under the configured floor, retrying for a bounded
window before surfacing ErrMemoryPressure. Both conditions are ordinary
at tick level and simply retry later.
*/
package feeds
