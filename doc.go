/*
Package n5ng holds the types, constants, and functions that have no other dependencies
and are shared by every layer of the n5ng server: leveled logging, 3d points and vectors,
the conversion between store axis order and neuroglancer axis order, and the fault
taxonomy used to map errors onto HTTP status codes.

n5ng serves N5 and Zarr chunked arrays through the neuroglancer "precomputed" HTTP layout
so a viewer can browse a segmentation without knowing anything about the underlying
array store.  The typical invocation is

	n5ng /path/to/volume.n5

after which neuroglancer can load sources of the form

	precomputed://http://<host>:5000/<dataset>
	precomputed://http://<host>:5000/<dataset>_properties

Packages

	storage        read-only array store on top of gocloud blob buckets
	storage/n5     N5 engine
	storage/zarr   Zarr v2 engine
	precomputed    translation of datasets into the precomputed protocol
	server         HTTP surface and configuration
*/
package n5ng
