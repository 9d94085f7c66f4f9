// Package page loads the host document that carries the chart images and
// answers the two questions a grab needs: which images carry a UTC stamp
// in their alt text, and which model the page is about.
package page
