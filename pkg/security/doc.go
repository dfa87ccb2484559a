/*
Package security holds the cryptographic helpers of the controller:
credential sealing and certificate handling.

Credential secret fields are sealed with AES-256-GCM, nonce prepended,
under a single installation key (SecretsManager). Dispatchers open
credentials just in time, hand the material to the scanner, and wipe
the buffers with ZeroizeCredential.

TruncateCertificate canonicalises user-supplied PEM bundles down to
CERTIFICATE blocks before they are stored or exported, so a pasted
bundle with commentary or an embedded key never round-trips.
ClientTLSConfig assembles the mutual-TLS client side used for scanner
connections.
*/
package security
