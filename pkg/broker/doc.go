/*
Package broker opens connections to scanners on behalf of the dispatch
layer.

Three concerns live here and nowhere else:

  - Transport selection. An absolute path in the scanner's host field
    means a UNIX-socket stream; anything else is TCP with TLS when a CA
    certificate is configured.
  - Retry policy. OSP dials retry with constant one second spacing up
    to the configured attempt count before failing with
    types.ErrScannerUnreachable. HTTP clients dial lazily and surface
    connect errors per request instead.
  - Relay resolution. Sensor scanner kinds sit behind a relay; when a
    relay-mapper executable is configured it is spawned per lookup and
    its <relay> XML reply replaces the (host, port, ca) tuple.

Sessions and clients returned by the broker are owned by the caller,
which must close them on every exit path.
*/
package broker
